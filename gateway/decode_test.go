package gateway

import (
	"encoding/hex"
	"testing"
)

func TestDecodeMethodWhitelist(t *testing.T) {
	hash := testPaymentHash(0x01)

	for _, method := range []PaymentMethod{Bolt12Method, "onchain", ""} {
		req := &MeltRequest{Method: method, Request: testInvoice(t, hash, 1_000_000)}

		decoded, decodeErr := decodeMeltRequest(req)
		if decodeErr == nil {
			t.Fatalf("expected error for method %q", method)
		}
		if decodeErr.Message != "Payment method not supported" {
			t.Errorf("unexpected message for method %q: %q", method, decodeErr.Message)
		}
		if decoded != nil {
			t.Errorf("no decode output expected for method %q", method)
		}
	}
}

func TestDecodeInvalidInvoice(t *testing.T) {
	req := &MeltRequest{Method: Bolt11Method, Request: "not an invoice"}

	_, decodeErr := decodeMeltRequest(req)
	if decodeErr == nil {
		t.Fatal("expected error")
	}
	if decodeErr.Code != 400 || decodeErr.Message != "Invalid BOLT11 invoice" {
		t.Errorf("unexpected error: %v", decodeErr)
	}
}

func TestDecodeEmbeddedAmountPrecedence(t *testing.T) {
	hash := testPaymentHash(0x03)
	clientAmount := uint64(42)

	req := &MeltRequest{
		Method:  Bolt11Method,
		Request: testInvoice(t, hash, 1_000_000),
		Amount:  &clientAmount,
	}

	decoded, decodeErr := decodeMeltRequest(req)
	if decodeErr != nil {
		t.Fatalf("unexpected error: %v", decodeErr)
	}
	if decoded.amount != 1000 {
		t.Errorf("embedded amount must win: expected 1000, got %d", decoded.amount)
	}
	if decoded.outgoing.AmountMsat != 0 {
		t.Errorf("embedded-amount invoices carry their own amount, got override %d", decoded.outgoing.AmountMsat)
	}
	if decoded.paymentHash != hex.EncodeToString(hash[:]) {
		t.Errorf("unexpected payment hash %q", decoded.paymentHash)
	}
}

func TestDecodeAmountlessInvoiceUsesClientAmount(t *testing.T) {
	hash := testPaymentHash(0x04)
	clientAmount := uint64(1500)

	req := &MeltRequest{
		Method:  Bolt11Method,
		Request: testInvoice(t, hash, 0),
		Amount:  &clientAmount,
	}

	decoded, decodeErr := decodeMeltRequest(req)
	if decodeErr != nil {
		t.Fatalf("unexpected error: %v", decodeErr)
	}
	if decoded.amount != 1500 {
		t.Errorf("expected client amount 1500, got %d", decoded.amount)
	}
	if decoded.outgoing.AmountMsat != 1_500_000 {
		t.Errorf("expected outgoing override of 1500000 msat, got %d", decoded.outgoing.AmountMsat)
	}
}

func TestDecodeMissingAmount(t *testing.T) {
	hash := testPaymentHash(0x05)

	req := &MeltRequest{Method: Bolt11Method, Request: testInvoice(t, hash, 0)}

	decoded, decodeErr := decodeMeltRequest(req)
	if decodeErr == nil {
		t.Fatal("expected error")
	}
	if decodeErr.Message != "Missing amount" {
		t.Errorf("unexpected message: %q", decodeErr.Message)
	}
	if decoded == nil {
		t.Fatal("partial decode expected so the caller can build a hint")
	}
	if decoded.amount != 0 {
		t.Errorf("expected zero amount, got %d", decoded.amount)
	}
	if decoded.paymentHash != hex.EncodeToString(hash[:]) {
		t.Errorf("unexpected payment hash %q", decoded.paymentHash)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	hash := testPaymentHash(0x06)
	invoice := testInvoice(t, hash, 2_000_000)
	req := &MeltRequest{Method: Bolt11Method, Request: invoice}

	first, err1 := decodeMeltRequest(req)
	second, err2 := decodeMeltRequest(req)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if first.amount != second.amount || first.paymentHash != second.paymentHash {
		t.Error("decoding the same request twice must yield identical results")
	}
}
