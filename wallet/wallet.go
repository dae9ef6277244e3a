package wallet

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut01"
	"github.com/elnosh/gonuts/cashu/nuts/nut03"
	"github.com/elnosh/gonuts/cashu/nuts/nut12"
	"github.com/elnosh/gonuts/cashu/nuts/nut14"
	"github.com/elnosh/gonuts/crypto"
	"github.com/thesimplekid/cashu-gateway/wallet/storage"
)

var (
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// PreparedSend is a reserved spend: proofs selected from the store for a
// token of the requested amount.
type PreparedSend struct {
	Amount uint64
	Proofs cashu.Proofs
}

// MintWallet is the per-mint wallet surface the gateway consumes.
type MintWallet interface {
	VerifyTokenDLEQ(token cashu.Token) error
	ReceiveHTLC(token cashu.Token, preimage string) (uint64, error)
	PrepareSend(amount uint64) (*PreparedSend, error)
	Send(prepared *PreparedSend) (cashu.Token, error)
}

// mintKeyset is the active keyset of a mint: its id and the mint public key
// for each amount.
type mintKeyset struct {
	id   string
	keys map[uint64]*btcec.PublicKey
}

// Wallet holds the ecash of a single mint for a single currency unit.
type Wallet struct {
	db storage.DB

	mintURL string
	unit    string

	// active keyset of the mint, fetched on first use
	mu     sync.Mutex
	keyset *mintKeyset

	client *http.Client
}

// LoadWallet returns a wallet for the mint. The mint is not contacted here;
// the active keyset is fetched on first use, or eagerly via RefreshKeyset.
func LoadWallet(db storage.DB, mintURL string) *Wallet {
	return &Wallet{
		db:      db,
		mintURL: mintURL,
		unit:    cashu.Sat.String(),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Wallet) MintURL() string {
	return w.mintURL
}

func (w *Wallet) Balance() uint64 {
	return proofsAmount(w.db.GetProofs(w.mintURL))
}

// RefreshKeyset fetches the mint's active keyset. Safe to call from a
// background goroutine at startup; failure leaves the wallet usable, the
// fetch is retried on first use.
func (w *Wallet) RefreshKeyset() error {
	keyset, err := w.fetchActiveKeyset()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.keyset = keyset
	w.mu.Unlock()
	return nil
}

// activeKeyset returns the cached keyset, fetching it from the mint if this
// wallet has not reached it yet.
func (w *Wallet) activeKeyset() (*mintKeyset, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.keyset != nil {
		return w.keyset, nil
	}

	keyset, err := w.fetchActiveKeyset()
	if err != nil {
		return nil, err
	}
	w.keyset = keyset
	return keyset, nil
}

func (w *Wallet) fetchActiveKeyset() (*mintKeyset, error) {
	resp, err := w.client.Get(w.mintURL + "/v1/keys")
	if err != nil {
		return nil, fmt.Errorf("error getting active keyset from mint: %v", err)
	}
	defer resp.Body.Close()

	var keysetRes nut01.GetKeysResponse
	if err := json.NewDecoder(resp.Body).Decode(&keysetRes); err != nil {
		return nil, fmt.Errorf("json.Decode: %v", err)
	}
	if len(keysetRes.Keysets) == 0 {
		return nil, errors.New("mint returned no keysets")
	}

	keyset := keysetRes.Keysets[0]
	keys := make(map[uint64]*btcec.PublicKey)
	for amount, pubkey := range keyset.Keys {
		pubkeyBytes, err := hex.DecodeString(pubkey)
		if err != nil {
			return nil, err
		}
		publicKey, err := secp256k1.ParsePubKey(pubkeyBytes)
		if err != nil {
			return nil, err
		}
		keys[amount] = publicKey
	}

	return &mintKeyset{id: keyset.Id, keys: keys}, nil
}

// VerifyTokenDLEQ checks that every proof in the token carries a DLEQ proof
// valid under the mint key for its amount.
func (w *Wallet) VerifyTokenDLEQ(token cashu.Token) error {
	keyset, err := w.activeKeyset()
	if err != nil {
		return err
	}

	for _, proof := range token.Proofs() {
		if proof.DLEQ == nil {
			return errors.New("proof does not have DLEQ proof")
		}
		key, ok := keyset.keys[proof.Amount]
		if !ok {
			return fmt.Errorf("no mint key for amount %v", proof.Amount)
		}
		if !nut12.VerifyProofDLEQ(proof, key) {
			return errors.New("invalid DLEQ proof")
		}
	}
	return nil
}

// ReceiveHTLC redeems an HTLC-locked token by revealing the preimage in the
// proof witnesses and swapping for fresh proofs. The fresh proofs are stored
// and their amount returned.
func (w *Wallet) ReceiveHTLC(token cashu.Token, preimage string) (uint64, error) {
	proofs := token.Proofs()

	witness, err := json.Marshal(nut14.HTLCWitness{Preimage: preimage})
	if err != nil {
		return 0, err
	}
	for i := range proofs {
		proofs[i].Witness = string(witness)
	}

	newProofs, _, err := w.swap(proofs, proofsAmount(proofs))
	if err != nil {
		return 0, err
	}

	if err := w.db.SaveProofs(w.mintURL, newProofs); err != nil {
		return 0, fmt.Errorf("error storing proofs: %v", err)
	}

	return proofsAmount(newProofs), nil
}

// PrepareSend reserves stored proofs totalling at least amount.
func (w *Wallet) PrepareSend(amount uint64) (*PreparedSend, error) {
	walletProofs := w.db.GetProofs(w.mintURL)

	selectedProofs := cashu.Proofs{}
	var selectedAmount uint64
	for _, proof := range walletProofs {
		if selectedAmount >= amount {
			break
		}
		selectedProofs = append(selectedProofs, proof)
		selectedAmount += proof.Amount
	}
	if selectedAmount < amount {
		return nil, ErrInsufficientBalance
	}

	for _, proof := range selectedProofs {
		if err := w.db.DeleteProof(w.mintURL, proof.Secret); err != nil {
			return nil, err
		}
	}

	return &PreparedSend{Amount: amount, Proofs: selectedProofs}, nil
}

// Send swaps the reserved proofs for exact denominations and returns a token
// for the send amount. Any overshoot goes back to the store.
func (w *Wallet) Send(prepared *PreparedSend) (cashu.Token, error) {
	sendProofs := prepared.Proofs

	if proofsAmount(prepared.Proofs) != prepared.Amount {
		send, change, err := w.swap(prepared.Proofs, prepared.Amount)
		if err != nil {
			return nil, err
		}
		if len(change) > 0 {
			if err := w.db.SaveProofs(w.mintURL, change); err != nil {
				return nil, fmt.Errorf("error storing change proofs: %v", err)
			}
		}
		sendProofs = send
	}

	return cashu.NewTokenV4(sendProofs, w.mintURL, cashu.Sat, true)
}

// swap exchanges inputs at the mint for fresh proofs: sendAmount worth first,
// the rest as change.
func (w *Wallet) swap(inputs cashu.Proofs, sendAmount uint64) (cashu.Proofs, cashu.Proofs, error) {
	inputAmount := proofsAmount(inputs)
	if sendAmount > inputAmount {
		return nil, nil, ErrInsufficientBalance
	}

	keyset, err := w.activeKeyset()
	if err != nil {
		return nil, nil, err
	}

	sendSplit := cashu.AmountSplit(sendAmount)
	changeSplit := cashu.AmountSplit(inputAmount - sendAmount)

	amounts := make([]uint64, 0, len(sendSplit)+len(changeSplit))
	amounts = append(amounts, sendSplit...)
	amounts = append(amounts, changeSplit...)

	outputs, secrets, rs, err := w.createBlindedMessages(keyset, amounts)
	if err != nil {
		return nil, nil, err
	}

	signatures, err := w.postSwap(nut03.PostSwapRequest{Inputs: inputs, Outputs: outputs})
	if err != nil {
		return nil, nil, err
	}

	proofs, err := w.constructProofs(keyset, signatures, secrets, rs)
	if err != nil {
		return nil, nil, fmt.Errorf("wallet.constructProofs: %v", err)
	}

	return proofs[:len(sendSplit)], proofs[len(sendSplit):], nil
}

func (w *Wallet) postSwap(swapRequest nut03.PostSwapRequest) (cashu.BlindedSignatures, error) {
	reqBody, err := json.Marshal(swapRequest)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request body: %v", err)
	}

	resp, err := w.client.Post(w.mintURL+"/v1/swap", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var mintErr cashu.Error
		if err := json.NewDecoder(resp.Body).Decode(&mintErr); err != nil {
			return nil, fmt.Errorf("mint returned %v", resp.Status)
		}
		return nil, &mintErr
	}

	var swapResponse nut03.PostSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swapResponse); err != nil {
		return nil, fmt.Errorf("error decoding response from mint: %v", err)
	}

	return swapResponse.Signatures, nil
}

func (w *Wallet) createBlindedMessages(keyset *mintKeyset, amounts []uint64) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	blindedMessages := make(cashu.BlindedMessages, len(amounts))
	secrets := make([]string, len(amounts))
	rs := make([]*secp256k1.PrivateKey, len(amounts))

	for i, amount := range amounts {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, nil, nil, err
		}
		secret := hex.EncodeToString(secretBytes)

		r, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, nil, err
		}

		B_, r, err := crypto.BlindMessage(secret, r)
		if err != nil {
			return nil, nil, nil, err
		}

		blindedMessages[i] = cashu.BlindedMessage{
			Amount: amount,
			B_:     hex.EncodeToString(B_.SerializeCompressed()),
			Id:     keyset.id,
		}
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

func (w *Wallet) constructProofs(keyset *mintKeyset, blindedSignatures cashu.BlindedSignatures,
	secrets []string, rs []*secp256k1.PrivateKey) (cashu.Proofs, error) {

	if len(blindedSignatures) != len(secrets) || len(blindedSignatures) != len(rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, len(blindedSignatures))
	for i, blindedSignature := range blindedSignatures {
		C_bytes, err := hex.DecodeString(blindedSignature.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K, ok := keyset.keys[blindedSignature.Amount]
		if !ok {
			return nil, fmt.Errorf("no mint key for amount %v", blindedSignature.Amount)
		}

		C := crypto.UnblindSignature(C_, rs[i], K)

		proofs[i] = cashu.Proof{
			Amount: blindedSignature.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
			Id:     blindedSignature.Id,
		}
	}

	return proofs, nil
}

func proofsAmount(proofs cashu.Proofs) uint64 {
	var total uint64
	for _, proof := range proofs {
		total += proof.Amount
	}
	return total
}
