package gateway

import (
	"context"
	"log/slog"

	"github.com/elnosh/gonuts/cashu"
	"github.com/thesimplekid/cashu-gateway/gateway/lightning"
	"github.com/thesimplekid/cashu-gateway/wallet"
)

const satUnit = "sat"

// WalletRegistry resolves per-mint wallet handles by (mint URL, unit).
type WalletRegistry interface {
	Get(mintURL, unit string) (wallet.MintWallet, error)
}

// RedemptionJournal records preimage-bearing redemptions that failed after
// the upstream payment settled, so an operator can redeem the still-locked
// tokens out-of-band.
type RedemptionJournal interface {
	SavePendingRedemption(id, preimage string, tokens []string) error
}

// Gateway bridges locked ecash to an upstream lightning node: it pays bolt11
// requests and redeems the HTLC-locked tokens with the revealed preimage.
// Immutable after construction and shared across request handlers.
type Gateway struct {
	node    lightning.PaymentClient
	wallets WalletRegistry
	journal RedemptionJournal
	mints   []string
	logger  *slog.Logger
}

func NewGateway(node lightning.PaymentClient, wallets WalletRegistry,
	journal RedemptionJournal, mints []string, logger *slog.Logger) *Gateway {
	return &Gateway{
		node:    node,
		wallets: wallets,
		journal: journal,
		mints:   mints,
		logger:  logger,
	}
}

// Mints returns the mint URLs this gateway accepts tokens from.
func (g *Gateway) Mints() []string {
	return g.mints
}

// Melt pays the requested invoice with the submitted ecash: it validates the
// tokens against the invoice HTLC, pays upstream, redeems the tokens with
// the revealed preimage and mints change for any surplus.
func (g *Gateway) Melt(ctx context.Context, req *MeltRequest) (*MeltResponse, *Error) {
	decoded, decodeErr := decodeMeltRequest(req)
	if decodeErr != nil {
		if decoded != nil {
			// hash is known: hint at a zero-amount request so the client
			// can retry with an amount of its choosing
			decodeErr.PaymentRequest = newPaymentRequest(decoded.amount, g.mints, decoded.paymentHash)
		}
		return nil, decodeErr
	}

	hint := newPaymentRequest(decoded.amount, g.mints, decoded.paymentHash)

	validated, validateErr := g.validateTokens(req.Tokens, decoded, hint)
	if validateErr != nil {
		return nil, validateErr
	}

	// Phase A: pay upstream. Attempted at most once, and only now that
	// every token cleared validation.
	payment, err := g.node.MakePayment(ctx, satUnit, decoded.outgoing)
	if err != nil {
		g.logger.Error("payment failed", slog.String("error", err.Error()))
		return nil, &Error{Code: 500, Message: "Payment failed", Details: err.Error()}
	}
	if payment.Preimage == "" {
		return nil, &Error{Code: 500, Message: "Missing payment proof"}
	}

	g.logger.Info("payment successfully processed",
		slog.String("payment_hash", decoded.paymentHash),
		slog.Uint64("total_spent", payment.TotalSpent))

	// Phase B: redeem the locked tokens with the revealed preimage.
	if redeemErr := g.redeemTokens(validated.tokens, payment.Preimage); redeemErr != nil {
		return nil, redeemErr
	}

	// Phase C: mint change for the surplus.
	change, changeErr := g.mintChange(validated, payment.TotalSpent)
	if changeErr != nil {
		return nil, changeErr
	}

	return &MeltResponse{PaymentProof: payment.Preimage, Change: change}, nil
}

// redeemTokens receives each token, in the order the client sent them, at
// its mint. If a receive fails the remaining tokens and the preimage are
// journaled before surfacing the error: the upstream payment already
// settled and cannot be rolled back.
func (g *Gateway) redeemTokens(tokens []cashu.Token, preimage string) *Error {
	for i, token := range tokens {
		tokenWallet, err := g.wallets.Get(token.Mint(), satUnit)
		if err != nil {
			g.journalUnredeemed(tokens[i:], preimage)
			return &Error{Code: 500, Message: "Failed to process token receive", Details: err.Error()}
		}

		if _, err := tokenWallet.ReceiveHTLC(token, preimage); err != nil {
			g.logger.Error("token receive failed", slog.String("error", err.Error()))
			g.journalUnredeemed(tokens[i:], preimage)
			return &Error{Code: 500, Message: "Failed to process token receive", Details: err.Error()}
		}
	}
	return nil
}

func (g *Gateway) journalUnredeemed(tokens []cashu.Token, preimage string) {
	serialized := make([]string, 0, len(tokens))
	for _, token := range tokens {
		tokenString, err := token.Serialize()
		if err != nil {
			continue
		}
		serialized = append(serialized, tokenString)
	}

	id, err := cashu.GenerateRandomQuoteId()
	if err != nil {
		g.logger.Error("could not journal unredeemed tokens", slog.String("error", err.Error()))
		return
	}
	if err := g.journal.SavePendingRedemption(id, preimage, serialized); err != nil {
		g.logger.Error("could not journal unredeemed tokens", slog.String("error", err.Error()))
		return
	}
	g.logger.Warn("journaled unredeemed tokens for out-of-band recovery",
		slog.String("id", id), slog.Int("tokens", len(serialized)))
}

// mintChange mints a single token for the surplus at the first mint the
// client's tokens came from.
func (g *Gateway) mintChange(validated *validatedTokens, totalSpent uint64) ([]string, *Error) {
	changeAmount := underflowSafeSub(validated.total, totalSpent)
	if changeAmount == 0 {
		return []string{}, nil
	}

	mintURL := validated.usedMints[0]
	changeWallet, err := g.wallets.Get(mintURL, satUnit)
	if err != nil {
		return nil, &Error{Code: 500, Message: "Failed to prepare change", Details: err.Error()}
	}

	g.logger.Info("preparing change", slog.Uint64("amount", changeAmount), slog.String("mint", mintURL))

	prepared, err := changeWallet.PrepareSend(changeAmount)
	if err != nil {
		return nil, &Error{Code: 500, Message: "Failed to prepare change", Details: err.Error()}
	}

	changeToken, err := changeWallet.Send(prepared)
	if err != nil {
		return nil, &Error{Code: 500, Message: "Failed to send change", Details: err.Error()}
	}

	tokenString, err := changeToken.Serialize()
	if err != nil {
		return nil, &Error{Code: 500, Message: "Failed to send change", Details: err.Error()}
	}

	return []string{tokenString}, nil
}

// underflowSafeSub returns a-b, clamped at zero.
func underflowSafeSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
