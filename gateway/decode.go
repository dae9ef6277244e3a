package gateway

import (
	"fmt"
	"strings"

	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/thesimplekid/cashu-gateway/gateway/lightning"
)

// PaymentMethod is the settlement method of a melt request.
type PaymentMethod string

const (
	Bolt11Method PaymentMethod = "bolt11"
	Bolt12Method PaymentMethod = "bolt12"
)

// MeltRequest is the body of POST /payment.
type MeltRequest struct {
	Method  PaymentMethod `json:"method"`
	Request string        `json:"request"`
	Amount  *uint64       `json:"amount,omitempty"`
	Tokens  []string      `json:"tokens"`
}

// MeltResponse is the success body: the payment preimage and any change
// tokens minted back to the payer.
type MeltResponse struct {
	PaymentProof string   `json:"payment_proof"`
	Change       []string `json:"change"`
}

// decodedRequest is the canonical form the validator and orchestrator
// consume: the HTLC binding hash, the required sat amount and the outgoing
// payment handed to the node.
type decodedRequest struct {
	paymentHash string
	amount      uint64
	outgoing    lightning.OutgoingPayment
}

// decodeMeltRequest derives the canonical amount and payment hash from the
// melt request. On a parseable invoice with no amount anywhere it returns
// both a partial decode (hash known, amount zero) and the error, so the
// caller can still attach a payment-request hint.
func decodeMeltRequest(req *MeltRequest) (*decodedRequest, *Error) {
	switch req.Method {
	case Bolt11Method:
	default:
		return nil, &Error{
			Code:    400,
			Message: "Payment method not supported",
			Details: fmt.Sprintf("%s payment method is not supported", req.Method),
		}
	}

	bolt11, err := decodepay.Decodepay(req.Request)
	if err != nil {
		return nil, &Error{Code: 400, Message: "Invalid BOLT11 invoice"}
	}

	decoded := &decodedRequest{
		paymentHash: strings.ToLower(bolt11.PaymentHash),
		outgoing:    lightning.OutgoingPayment{Bolt11: req.Request},
	}

	// an amount embedded in the invoice overrides any client-supplied one
	if bolt11.MSatoshi > 0 {
		decoded.amount = uint64(bolt11.MSatoshi) / 1000
	} else if req.Amount != nil {
		decoded.amount = *req.Amount
		decoded.outgoing.AmountMsat = *req.Amount * 1000
	} else {
		return decoded, &Error{
			Code:    400,
			Message: "Missing amount",
			Details: "Invoice has no amount specified. Please provide an amount in the request.",
		}
	}

	return decoded, nil
}
