package gateway

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const paymentRequestPrefix = "creqA"

// Nut10Lock is the spending condition tokens must be locked to.
type Nut10Lock struct {
	Kind string `cbor:"k"`
	Data string `cbor:"d"`
}

// PaymentRequest is a NUT-18 payment request. It is handed back on
// payment-required errors so a client can retry against a correctly
// parameterised invoice.
type PaymentRequest struct {
	Amount uint64     `cbor:"a"`
	Unit   string     `cbor:"u"`
	Mints  []string   `cbor:"m"`
	Nut10  *Nut10Lock `cbor:"nut10,omitempty"`
}

func newPaymentRequest(amount uint64, mints []string, paymentHash string) *PaymentRequest {
	return &PaymentRequest{
		Amount: amount,
		Unit:   satUnit,
		Mints:  mints,
		Nut10:  &Nut10Lock{Kind: "HTLC", Data: paymentHash},
	}
}

// Encode serializes the payment request as CBOR with the NUT-18 prefix.
func (pr *PaymentRequest) Encode() (string, error) {
	requestBytes, err := cbor.Marshal(pr)
	if err != nil {
		return "", err
	}
	return paymentRequestPrefix + base64.RawURLEncoding.EncodeToString(requestBytes), nil
}

// DecodePaymentRequest parses a NUT-18 serialized payment request.
func DecodePaymentRequest(request string) (*PaymentRequest, error) {
	if !strings.HasPrefix(request, paymentRequestPrefix) {
		return nil, errors.New("invalid payment request prefix")
	}

	requestBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(request, paymentRequestPrefix))
	if err != nil {
		return nil, err
	}

	var pr PaymentRequest
	if err := cbor.Unmarshal(requestBytes, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}
