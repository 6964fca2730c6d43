package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ubiwhere/keygate/internal/config"
	"github.com/ubiwhere/keygate/internal/hash"
	"github.com/ubiwhere/keygate/internal/key"
	"github.com/ubiwhere/keygate/internal/model"
	"github.com/ubiwhere/keygate/internal/store"
)

// Verifier checks presented API keys against the store. Every rejection
// surfaces as ErrInvalidKey; the concrete reason is only logged.
type Verifier struct {
	store  *store.Store
	hasher *hash.Bcrypt
	keys   config.Keys
	logger *slog.Logger
	now    func() time.Time
}

func NewVerifier(st *store.Store, hasher *hash.Bcrypt, keys config.Keys, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: st, hasher: hasher, keys: keys, logger: logger, now: time.Now}
}

// Verify authenticates a raw presented key. On success it persists the
// key's last-seen timestamp before returning; a failed timestamp write is
// logged but does not fail the verification.
func (v *Verifier) Verify(ctx context.Context, rawKey string) (*model.APIKey, error) {
	prefix, publicID, secret, err := key.Decode(rawKey)
	if err != nil {
		v.logger.Debug("key rejected: malformed", "error", err)
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, "malformed")
	}

	k, err := v.store.GetAPIKeyByPrefixAndPublicID(ctx, prefix, publicID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a comparison so unknown keys cost the same as wrong
			// secrets.
			v.hasher.DummyVerify(secret)
			v.logger.Debug("key rejected: unknown", "prefix", prefix, "public_id", publicID)
			return nil, fmt.Errorf("%w: %s", ErrInvalidKey, "unknown")
		}
		return nil, fmt.Errorf("lookup key: %w", err)
	}

	if k.Expired(v.now()) {
		v.logger.Debug("key rejected: expired", "key_id", k.ID, "expires_at", k.ExpiresAt)
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, "expired")
	}

	if !v.hasher.Verify(secret, k.HashedSecret) {
		v.logger.Debug("key rejected: secret mismatch", "key_id", k.ID)
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, "secret mismatch")
	}

	if err := v.store.UpdateAPIKeyLastSeen(ctx, k.ID, v.now()); err != nil {
		v.logger.Warn("failed to update key last seen", "key_id", k.ID, "error", err)
	}

	return k, nil
}

// RecordUsage writes an audit event for a verified request. It is a no-op
// when usage logging is disabled, and write failures never break the
// request being audited.
func (v *Verifier) RecordUsage(ctx context.Context, e *model.KeyUsageEvent) {
	if !v.keys.LogKeyUsage {
		return
	}
	if err := v.store.InsertUsageEvent(ctx, e); err != nil {
		v.logger.Warn("failed to record key usage", "key_id", e.APIKeyID, "error", err)
	}
}
