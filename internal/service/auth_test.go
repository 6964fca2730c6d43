package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/store"
)

func newTestAdminAuth(t *testing.T) (*AdminAuth, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	auth := NewAdminAuth(st, newTestHasher(t), "test-secret-key-for-jwt", nil)
	return auth, st
}

func createAdmin(t *testing.T, auth *AdminAuth, st *store.Store, email, password string, active bool) *model.Admin {
	t.Helper()
	hashed, err := auth.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	a := &model.Admin{Email: email, PasswordHash: hashed, Name: "Test", IsActive: active}
	if err := st.CreateAdmin(context.Background(), a); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return a
}

func TestJWTRoundTrip(t *testing.T) {
	auth, _ := newTestAdminAuth(t)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, 42, "admin@example.com", 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	principal, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if principal.AdminID != 42 {
		t.Errorf("AdminID: got %d, want 42", principal.AdminID)
	}
	if principal.Email != "admin@example.com" {
		t.Errorf("Email: got %q, want %q", principal.Email, "admin@example.com")
	}
}

func TestJWTExpired(t *testing.T) {
	auth, _ := newTestAdminAuth(t)
	ctx := context.Background()

	token, err := auth.IssueJWT(ctx, 1, "test@test.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if _, err := auth.ValidateJWT(ctx, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth, _ := newTestAdminAuth(t)

	if _, err := auth.ValidateJWT(context.Background(), "garbage.token.here"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestAdminLogin(t *testing.T) {
	auth, st := newTestAdminAuth(t)
	ctx := context.Background()

	createAdmin(t, auth, st, "ops@example.com", "correct horse battery", true)

	admin, err := auth.Login(ctx, "ops@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if admin.Email != "ops@example.com" {
		t.Errorf("Email = %q", admin.Email)
	}

	// Login records the timestamp.
	stored, err := st.GetAdminByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Error("expected LastLoginAt after successful login")
	}

	if _, err := auth.Login(ctx, "ops@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v, want ErrInvalidCredentials", err)
	}
	if _, err := auth.Login(ctx, "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v, want ErrInvalidCredentials", err)
	}
}

func TestAdminLoginInactive(t *testing.T) {
	auth, st := newTestAdminAuth(t)

	createAdmin(t, auth, st, "gone@example.com", "some password", false)

	_, err := auth.Login(context.Background(), "gone@example.com", "some password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("inactive admin: got %v, want ErrInvalidCredentials", err)
	}
}
