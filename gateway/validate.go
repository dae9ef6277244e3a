package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut10"
	"github.com/elnosh/gonuts/cashu/nuts/nut11"
)

// minLocktimeDelta is the slack, in seconds, a token's self-refund deadline
// must leave beyond now. Tokens whose locktime could elapse while the
// upstream payment is in flight would let the payer reclaim them after the
// gateway has paid.
const minLocktimeDelta = 900

const (
	htlcSecretKind = "HTLC"
	p2pkSecretKind = "P2PK"
)

// validatedTokens is the validator's output: the decoded tokens in the order
// the client sent them, the distinct mints they came from in order of first
// appearance, and their total value.
type validatedTokens struct {
	tokens    []cashu.Token
	usedMints []string
	total     uint64
}

func (g *Gateway) validateTokens(rawTokens []string, decoded *decodedRequest, hint *PaymentRequest) (*validatedTokens, *Error) {
	tokens := make([]cashu.Token, 0, len(rawTokens))
	for _, rawToken := range rawTokens {
		token, err := cashu.DecodeToken(rawToken)
		if err != nil {
			// garbage entries do not pre-empt a proper insufficient-funds
			// response; any deficit is caught right below
			g.logger.Debug("skipping malformed token", slog.String("error", err.Error()))
			continue
		}
		tokens = append(tokens, token)
	}

	var totalAmount uint64
	for _, token := range tokens {
		totalAmount += token.Amount()
	}
	if totalAmount < decoded.amount {
		return nil, &Error{
			Code:           402,
			Message:        "Insufficient funds",
			Details:        fmt.Sprintf("Required: %d, provided: %d", decoded.amount, totalAmount),
			PaymentRequest: hint,
		}
	}

	usedMints := make([]string, 0, len(tokens))
	seenMints := make(map[string]bool)

	for _, token := range tokens {
		mintURL := token.Mint()
		if !seenMints[mintURL] {
			seenMints[mintURL] = true
			usedMints = append(usedMints, mintURL)
		}

		tokenWallet, err := g.wallets.Get(mintURL, satUnit)
		if err != nil {
			return nil, &Error{Code: 500, Message: "Wallet not found for mint", Details: mintURL}
		}

		if err := tokenWallet.VerifyTokenDLEQ(token); err != nil {
			return nil, &Error{
				Code:           400,
				Message:        "Token verification failed",
				Details:        fmt.Sprintf("DLEQ verification error: %v", err),
				PaymentRequest: hint,
			}
		}

		for _, proof := range token.Proofs() {
			if proofErr := verifyProofLock(proof, decoded.paymentHash); proofErr != nil {
				proofErr.PaymentRequest = hint
				return nil, proofErr
			}
		}
	}

	return &validatedTokens{tokens: tokens, usedMints: usedMints, total: totalAmount}, nil
}

// verifyProofLock checks that the proof secret is an HTLC bound to the
// invoice payment hash with enough locktime slack.
func verifyProofLock(proof cashu.Proof, paymentHash string) *Error {
	secret, err := nut10.DeserializeSecret(proof.Secret)
	if err != nil {
		return &Error{
			Code:    400,
			Message: "Token verification failed",
			Details: fmt.Sprintf("Secret validation failed: %v", err),
		}
	}

	switch secretKind(proof.Secret) {
	case htlcSecretKind:
		if !strings.EqualFold(secret.Data, paymentHash) {
			return &Error{Code: 400, Message: "Token hash does not match payment hash"}
		}

		tags, err := nut11.ParseP2PKTags(secret.Tags)
		if err != nil {
			return &Error{
				Code:    400,
				Message: "Token verification failed",
				Details: fmt.Sprintf("Secret validation failed: %v", err),
			}
		}
		if tags.Locktime > 0 && tags.Locktime < time.Now().Unix()+minLocktimeDelta {
			return &Error{Code: 400, Message: "Token lock time is not long enough"}
		}

	case p2pkSecretKind:
		return &Error{
			Code:    400,
			Message: "Token verification failed",
			Details: "P2PK spending condition is not supported",
		}

	default:
		return &Error{
			Code:    400,
			Message: "Token verification failed",
			Details: "unknown spending condition",
		}
	}

	return nil
}

// secretKind extracts the well-known secret kind tag from the serialized
// ["kind", {...}] form.
func secretKind(secret string) string {
	var rawSecret []json.RawMessage
	if err := json.Unmarshal([]byte(secret), &rawSecret); err != nil || len(rawSecret) != 2 {
		return ""
	}
	var kind string
	if err := json.Unmarshal(rawSecret[0], &kind); err != nil {
		return ""
	}
	return kind
}
