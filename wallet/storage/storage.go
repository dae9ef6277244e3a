package storage

import (
	"github.com/elnosh/gonuts/cashu"
)

// PendingRedemption is a redemption that failed after the upstream payment
// settled. The preimage is recorded so an operator can redeem the locked
// tokens out-of-band.
type PendingRedemption struct {
	Id        string   `json:"id"`
	Preimage  string   `json:"preimage"`
	Tokens    []string `json:"tokens"`
	CreatedAt int64    `json:"created_at"`
}

type DB interface {
	SaveProofs(mintURL string, proofs cashu.Proofs) error
	GetProofs(mintURL string) cashu.Proofs
	DeleteProof(mintURL string, secret string) error
	SavePendingRedemption(id, preimage string, tokens []string) error
	GetPendingRedemptions() []PendingRedemption
	DeletePendingRedemption(id string) error
	Close() error
}
