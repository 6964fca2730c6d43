package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/store"
)

// Authorizer decides whether a verified key may perform an operation on a
// resource type, based on the key's scope grants.
type Authorizer struct {
	store  *store.Store
	logger *slog.Logger
}

func NewAuthorizer(st *store.Store, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{store: st, logger: logger}
}

// Authorize returns nil when the key may perform op on resourceType. A key
// with no grants at all is unrestricted and passes every check; once any
// grant exists, access narrows to exactly what the grants name.
func (a *Authorizer) Authorize(ctx context.Context, keyID int64, resourceType string, op model.Operation) error {
	grants, err := a.store.GetScopeGrants(ctx, keyID)
	if err != nil {
		return fmt.Errorf("load scope grants: %w", err)
	}

	if len(grants) == 0 {
		return nil
	}

	for _, g := range grants {
		if g.ResourceType == resourceType && g.Allows(op) {
			return nil
		}
	}

	a.logger.Debug("scope check failed",
		"key_id", keyID, "resource_type", resourceType, "operation", op, "grants", len(grants))
	return fmt.Errorf("%w: %s on %s", ErrInsufficientScope, op, resourceType)
}
