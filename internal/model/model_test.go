package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAPIKeyJSONHidesSecret(t *testing.T) {
	k := APIKey{
		ID:           1,
		Name:         "svc",
		Prefix:       "ubiwhere",
		PublicID:     "abc123",
		HashedSecret: "$2a$10$secret-material",
		CreatedAt:    time.Now(),
	}
	data, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "secret-material") {
		t.Error("hashed secret leaked into JSON")
	}
	if !strings.Contains(string(data), `"public_id":"abc123"`) {
		t.Errorf("public_id missing from JSON: %s", data)
	}
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	k := APIKey{}
	if k.Expired(now) {
		t.Error("key without expiry must never expire")
	}

	future := now.Add(time.Hour)
	k.ExpiresAt = &future
	if k.Expired(now) {
		t.Error("key expiring in the future reported expired")
	}

	past := now.Add(-time.Second)
	k.ExpiresAt = &past
	if !k.Expired(now) {
		t.Error("key expiring in the past reported valid")
	}

	// The deadline itself is still valid.
	exact := now
	k.ExpiresAt = &exact
	if k.Expired(now) {
		t.Error("key expiring exactly now should still be valid")
	}
}

func TestAdminJSONHidesPasswordHash(t *testing.T) {
	a := Admin{ID: 1, Email: "ops@example.com", PasswordHash: "$2a$10$hash-material"}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "hash-material") {
		t.Error("password hash leaked into JSON")
	}
}

func TestParseOperation(t *testing.T) {
	for _, op := range Operations() {
		got, ok := ParseOperation(string(op))
		if !ok || got != op {
			t.Errorf("ParseOperation(%q) = %v, %v", op, got, ok)
		}
	}
	if _, ok := ParseOperation("patch"); ok {
		t.Error("ParseOperation accepted unknown operation")
	}
	if _, ok := ParseOperation(""); ok {
		t.Error("ParseOperation accepted empty string")
	}
}

func TestOperationForMethod(t *testing.T) {
	tests := []struct {
		method string
		want   Operation
		ok     bool
	}{
		{"GET", OpRead, true},
		{"HEAD", OpRead, true},
		{"OPTIONS", OpRead, true},
		{"POST", OpCreate, true},
		{"PUT", OpUpdate, true},
		{"PATCH", OpUpdate, true},
		{"DELETE", OpDelete, true},
		{"TRACE", "", false},
		{"CONNECT", "", false},
	}
	for _, tc := range tests {
		got, ok := OperationForMethod(tc.method)
		if ok != tc.ok || got != tc.want {
			t.Errorf("OperationForMethod(%q) = %q, %v; want %q, %v", tc.method, got, ok, tc.want, tc.ok)
		}
	}
}

func TestScopeGrantAllows(t *testing.T) {
	g := ScopeGrant{
		ResourceType: "sensors",
		Operations:   []Operation{OpRead, OpUpdate},
	}
	if !g.Allows(OpRead) || !g.Allows(OpUpdate) {
		t.Error("granted operations not allowed")
	}
	if g.Allows(OpCreate) || g.Allows(OpDelete) {
		t.Error("ungranted operations allowed")
	}

	empty := ScopeGrant{ResourceType: "sensors"}
	if empty.Allows(OpRead) {
		t.Error("grant with no operations should allow nothing")
	}
}
