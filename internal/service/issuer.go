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

// maxIssueAttempts bounds the retry loop on public id collisions. With
// 32-char ids over a 58-char alphabet a single collision is already
// vanishingly unlikely.
const maxIssueAttempts = 5

// Issuer mints API keys: it generates the random parts, hashes the secret,
// and persists the record. The plaintext key is returned exactly once and
// never stored.
type Issuer struct {
	store  *store.Store
	hasher *hash.Bcrypt
	keys   config.Keys
	logger *slog.Logger
}

func NewIssuer(st *store.Store, hasher *hash.Bcrypt, keys config.Keys, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{store: st, hasher: hasher, keys: keys, logger: logger}
}

// Issue creates a new API key named name, optionally expiring at expiresAt.
// It returns the stored record and the full plaintext key. The plaintext is
// shown to the caller once; only its hash survives.
func (i *Issuer) Issue(ctx context.Context, name string, expiresAt *time.Time) (*model.APIKey, string, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		publicID, err := key.RandomString(i.keys.PublicIDLength)
		if err != nil {
			return nil, "", fmt.Errorf("generate public id: %w", err)
		}
		secret, err := key.RandomString(i.keys.PrivateSecretLength)
		if err != nil {
			return nil, "", fmt.Errorf("generate secret: %w", err)
		}

		hashed, err := i.hasher.Hash(secret)
		if err != nil {
			return nil, "", fmt.Errorf("hash secret: %w", err)
		}

		plaintext, err := key.Encode(i.keys.Prefix, publicID, secret)
		if err != nil {
			return nil, "", fmt.Errorf("encode key: %w", err)
		}

		k := &model.APIKey{
			Name:         name,
			Prefix:       i.keys.Prefix,
			PublicID:     publicID,
			HashedSecret: hashed,
			ExpiresAt:    expiresAt,
		}
		if err := i.store.CreateAPIKey(ctx, k); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				i.logger.Warn("public id collision, retrying", "attempt", attempt+1)
				continue
			}
			return nil, "", fmt.Errorf("store key: %w", err)
		}

		i.logger.Info("api key issued", "key_id", k.ID, "name", name, "public_id", publicID)
		return k, plaintext, nil
	}

	return nil, "", ErrKeyCollision
}
