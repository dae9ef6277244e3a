package wallet

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut03"
	"github.com/thesimplekid/cashu-gateway/wallet/storage"
)

const testKeysetId = "00ffd48b8f5ecf80"

// fakeMint answers /v1/keys and /v1/swap well enough to exercise the wallet
// flows. Swap outputs are signed with arbitrary valid curve points.
type fakeMint struct {
	keys map[uint64]*secp256k1.PrivateKey

	swapRequests []nut03.PostSwapRequest
	swapErr      *cashu.Error
}

func newFakeMint(t *testing.T) *fakeMint {
	t.Helper()

	keys := make(map[uint64]*secp256k1.PrivateKey)
	for amount := uint64(1); amount <= 2048; amount *= 2 {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("error generating key: %v", err)
		}
		keys[amount] = key
	}
	return &fakeMint{keys: keys}
}

func (m *fakeMint) serve(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/keys", func(rw http.ResponseWriter, req *http.Request) {
		keys := make(map[string]string)
		for amount, key := range m.keys {
			keys[fmt.Sprintf("%d", amount)] = hex.EncodeToString(key.PubKey().SerializeCompressed())
		}
		response := map[string]any{
			"keysets": []map[string]any{
				{"id": testKeysetId, "unit": "sat", "keys": keys},
			},
		}
		json.NewEncoder(rw).Encode(response)
	})
	mux.HandleFunc("/v1/swap", func(rw http.ResponseWriter, req *http.Request) {
		var swapRequest nut03.PostSwapRequest
		if err := json.NewDecoder(req.Body).Decode(&swapRequest); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		m.swapRequests = append(m.swapRequests, swapRequest)

		if m.swapErr != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(m.swapErr)
			return
		}

		signatures := make(cashu.BlindedSignatures, len(swapRequest.Outputs))
		for i, output := range swapRequest.Outputs {
			signatures[i] = cashu.BlindedSignature{
				Amount: output.Amount,
				Id:     output.Id,
				C_:     hex.EncodeToString(m.keys[output.Amount].PubKey().SerializeCompressed()),
			}
		}
		json.NewEncoder(rw).Encode(nut03.PostSwapResponse{Signatures: signatures})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testWallet(t *testing.T, mint *fakeMint) *Wallet {
	t.Helper()

	server := mint.serve(t)
	db, err := storage.InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("error opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return LoadWallet(db, server.URL)
}

func testToken(t *testing.T, mintURL string, amounts ...uint64) cashu.Token {
	t.Helper()

	proofs := make(cashu.Proofs, len(amounts))
	for i, amount := range amounts {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		proofs[i] = cashu.Proof{
			Amount: amount,
			Id:     testKeysetId,
			Secret: fmt.Sprintf("secret-%d-%d", i, amount),
			C:      hex.EncodeToString(key.PubKey().SerializeCompressed()),
		}
	}

	token, err := cashu.NewTokenV4(proofs, mintURL, cashu.Sat, false)
	if err != nil {
		t.Fatalf("error building token: %v", err)
	}
	return token
}

func TestRefreshKeyset(t *testing.T) {
	w := testWallet(t, newFakeMint(t))

	if err := w.RefreshKeyset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.keyset.id != testKeysetId {
		t.Errorf("expected keyset id %q, got %q", testKeysetId, w.keyset.id)
	}
	if len(w.keyset.keys) != 12 {
		t.Errorf("expected 12 keys, got %d", len(w.keyset.keys))
	}
}

func TestKeysetFetchedLazily(t *testing.T) {
	// a wallet for an unreachable mint loads fine; operations that need the
	// keyset surface the fetch error
	db, err := storage.InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("error opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	w := LoadWallet(db, "http://127.0.0.1:1")

	if err := w.RefreshKeyset(); err == nil {
		t.Error("expected error refreshing keyset of unreachable mint")
	}
	if err := w.VerifyTokenDLEQ(testToken(t, w.MintURL(), 4)); err == nil {
		t.Error("expected error verifying against unreachable mint")
	}
}

func TestVerifyTokenDLEQRequiresProof(t *testing.T) {
	w := testWallet(t, newFakeMint(t))

	token := testToken(t, w.MintURL(), 4)
	if err := w.VerifyTokenDLEQ(token); err == nil {
		t.Error("expected error for proofs without DLEQ")
	}
}

func TestReceiveHTLC(t *testing.T) {
	mint := newFakeMint(t)
	w := testWallet(t, mint)

	preimage := "6a77b1c5c9a3e1ff"
	token := testToken(t, w.MintURL(), 64, 32)

	amount, err := w.ReceiveHTLC(token, preimage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount != 96 {
		t.Errorf("expected 96 received, got %d", amount)
	}
	if w.Balance() != 96 {
		t.Errorf("expected balance of 96, got %d", w.Balance())
	}

	if len(mint.swapRequests) != 1 {
		t.Fatalf("expected one swap, got %d", len(mint.swapRequests))
	}
	for _, input := range mint.swapRequests[0].Inputs {
		if !strings.Contains(input.Witness, preimage) {
			t.Errorf("swap input must reveal the preimage, witness: %q", input.Witness)
		}
	}
}

func TestReceiveHTLCMintRejection(t *testing.T) {
	mint := newFakeMint(t)
	mint.swapErr = &cashu.Error{Detail: "invalid preimage", Code: 30001}
	w := testWallet(t, mint)

	if _, err := w.ReceiveHTLC(testToken(t, w.MintURL(), 64), "deadbeef"); err == nil {
		t.Fatal("expected error when the mint rejects the swap")
	}
	if w.Balance() != 0 {
		t.Errorf("nothing may be stored on a failed receive, balance %d", w.Balance())
	}
}

func TestPrepareSendInsufficientBalance(t *testing.T) {
	w := testWallet(t, newFakeMint(t))

	if _, err := w.PrepareSend(10); err != ErrInsufficientBalance {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestPrepareSendAndSend(t *testing.T) {
	mint := newFakeMint(t)
	w := testWallet(t, mint)

	// fund the wallet through a receive
	if _, err := w.ReceiveHTLC(testToken(t, w.MintURL(), 8), "deadbeef"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prepared, err := w.PrepareSend(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prepared.Amount != 5 {
		t.Errorf("expected prepared amount of 5, got %d", prepared.Amount)
	}
	// reserved proofs are no longer spendable
	if w.Balance() != 0 {
		t.Errorf("expected reserved balance of 0, got %d", w.Balance())
	}

	token, err := w.Send(prepared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.Amount() != 5 {
		t.Errorf("expected token of 5, got %d", token.Amount())
	}
	if token.Mint() != w.MintURL() {
		t.Errorf("unexpected token mint %q", token.Mint())
	}
	// the overshoot went back to the store
	if w.Balance() != 3 {
		t.Errorf("expected change balance of 3, got %d", w.Balance())
	}

	if _, err := token.Serialize(); err != nil {
		t.Errorf("token must serialize: %v", err)
	}
}
