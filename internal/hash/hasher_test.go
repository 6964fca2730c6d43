package hash

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashVerify(t *testing.T) {
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}

	hashed, err := h.Hash("super-secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hashed == "super-secret" {
		t.Fatal("hash equals plaintext")
	}
	if !strings.HasPrefix(hashed, "$2") {
		t.Errorf("expected bcrypt format, got %q", hashed)
	}

	if !h.Verify("super-secret", hashed) {
		t.Error("Verify rejected the correct plaintext")
	}
	if h.Verify("super-secreT", hashed) {
		t.Error("Verify accepted a wrong plaintext")
	}
	if h.Verify("", hashed) {
		t.Error("Verify accepted empty plaintext")
	}
}

func TestBcryptSaltsDiffer(t *testing.T) {
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}

	a, err := h.Hash("same-input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("same-input")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same input are identical; salt is not per-call")
	}
}

func TestDummyVerifyAlwaysFalse(t *testing.T) {
	h, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt: %v", err)
	}
	if h.DummyVerify("anything") {
		t.Error("DummyVerify returned true")
	}
	if h.DummyVerify("keygate-dummy-comparison-subject") {
		t.Error("DummyVerify returned true for the dummy subject")
	}
}

func TestNewBcryptCostBounds(t *testing.T) {
	if _, err := NewBcrypt(bcrypt.MaxCost + 1); err == nil {
		t.Error("expected error for cost above max")
	}
	if _, err := NewBcrypt(-1); err == nil {
		t.Error("expected error for negative cost")
	}
	if h, err := NewBcrypt(0); err != nil || h == nil {
		t.Errorf("cost 0 should fall back to default, got %v", err)
	}
}
