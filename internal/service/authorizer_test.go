package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ubiwhere/keygate/internal/model"
)

func TestAuthorizeUnscopedKeyAllowsEverything(t *testing.T) {
	st := newTestStore(t)
	issuer := NewIssuer(st, newTestHasher(t), testKeys(), nil)
	authz := NewAuthorizer(st, nil)
	ctx := context.Background()

	k, _, err := issuer.Issue(ctx, "unscoped", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for _, op := range model.Operations() {
		if err := authz.Authorize(ctx, k.ID, "anything", op); err != nil {
			t.Errorf("Authorize(%s) on unscoped key: %v", op, err)
		}
	}
}

func TestAuthorizeScopedKey(t *testing.T) {
	st := newTestStore(t)
	issuer := NewIssuer(st, newTestHasher(t), testKeys(), nil)
	authz := NewAuthorizer(st, nil)
	ctx := context.Background()

	k, _, err := issuer.Issue(ctx, "scoped", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := st.CreateResourceType(ctx, &model.ResourceType{Name: "sensors", Label: "Sensors"}); err != nil {
		t.Fatalf("CreateResourceType: %v", err)
	}
	err = st.SetScopeGrants(ctx, k.ID, []model.ScopeGrant{
		{ResourceType: "sensors", Operations: []model.Operation{model.OpRead, model.OpCreate}},
	})
	if err != nil {
		t.Fatalf("SetScopeGrants: %v", err)
	}

	tests := []struct {
		resource string
		op       model.Operation
		allowed  bool
	}{
		{"sensors", model.OpRead, true},
		{"sensors", model.OpCreate, true},
		{"sensors", model.OpUpdate, false},
		{"sensors", model.OpDelete, false},
		{"gateways", model.OpRead, false},
	}
	for _, tc := range tests {
		err := authz.Authorize(ctx, k.ID, tc.resource, tc.op)
		if tc.allowed && err != nil {
			t.Errorf("Authorize(%s, %s): unexpected deny: %v", tc.resource, tc.op, err)
		}
		if !tc.allowed && !errors.Is(err, ErrInsufficientScope) {
			t.Errorf("Authorize(%s, %s) = %v, want ErrInsufficientScope", tc.resource, tc.op, err)
		}
	}
}

func TestAuthorizeMultipleGrants(t *testing.T) {
	st := newTestStore(t)
	issuer := NewIssuer(st, newTestHasher(t), testKeys(), nil)
	authz := NewAuthorizer(st, nil)
	ctx := context.Background()

	k, _, err := issuer.Issue(ctx, "multi", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for _, name := range []string{"sensors", "gateways"} {
		if err := st.CreateResourceType(ctx, &model.ResourceType{Name: name, Label: name}); err != nil {
			t.Fatalf("CreateResourceType(%s): %v", name, err)
		}
	}
	err = st.SetScopeGrants(ctx, k.ID, []model.ScopeGrant{
		{ResourceType: "sensors", Operations: []model.Operation{model.OpRead}},
		{ResourceType: "gateways", Operations: []model.Operation{model.OpDelete}},
	})
	if err != nil {
		t.Fatalf("SetScopeGrants: %v", err)
	}

	if err := authz.Authorize(ctx, k.ID, "gateways", model.OpDelete); err != nil {
		t.Errorf("expected delete on gateways to pass: %v", err)
	}
	if err := authz.Authorize(ctx, k.ID, "sensors", model.OpDelete); !errors.Is(err, ErrInsufficientScope) {
		t.Errorf("delete on sensors should be denied, got %v", err)
	}
}
