package lightning

import "context"

// OutgoingPayment carries everything the node needs to settle a bolt11
// payment request.
type OutgoingPayment struct {
	Bolt11 string

	// AmountMsat is only set for amountless invoices. For invoices with an
	// embedded amount it is zero and the node pays the embedded amount.
	AmountMsat uint64

	// MaxFeeMsat caps the routing fee. Zero leaves the cap to the node.
	MaxFeeMsat uint64
}

// PaymentResult is the node's report of a settled payment.
type PaymentResult struct {
	// Preimage is the hex-encoded preimage revealed by the payment.
	// Empty if the node settled without producing proof.
	Preimage string

	// TotalSpent is the total debited in sats, routing fees included.
	TotalSpent uint64
}

// PaymentClient is the upstream node surface the gateway consumes.
type PaymentClient interface {
	MakePayment(ctx context.Context, unit string, outgoing OutgoingPayment) (PaymentResult, error)
}

type PaymentState int

const (
	Pending PaymentState = iota
	Succeeded
	Failed
)

func (s PaymentState) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// PaymentStatus is the node's view of an outgoing payment, looked up by
// payment hash. Used by operators to disambiguate a reported payment failure
// from one that actually settled upstream.
type PaymentStatus struct {
	State    PaymentState
	Preimage string
}
