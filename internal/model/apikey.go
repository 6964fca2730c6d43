package model

import "time"

// APIKey represents a machine-to-machine credential. The private part of the
// key is never stored; only a salted bcrypt hash is persisted, and the public
// identifier is what lookups key on.
type APIKey struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Prefix       string     `json:"prefix" db:"prefix"`
	PublicID     string     `json:"public_id" db:"public_id"`
	HashedSecret string     `json:"-" db:"hashed_secret"` // bcrypt hash, never expose
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty" db:"last_seen"`
}

// Expired reports whether the key is past its expiry time. Keys without an
// expiry never expire.
func (k *APIKey) Expired(now time.Time) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return k.ExpiresAt.Before(now)
}

// ScopeGrant binds an API key to a resource type and the set of operations
// the key may perform on it. A key with zero grants is unrestricted.
type ScopeGrant struct {
	ID             int64       `json:"id" db:"id"`
	APIKeyID       int64       `json:"api_key_id" db:"api_key_id"`
	ResourceTypeID int64       `json:"resource_type_id" db:"resource_type_id"`
	ResourceType   string      `json:"resource_type" db:"resource_type"`
	Operations     []Operation `json:"operations"`
}

// Allows reports whether this grant permits op on the grant's resource type.
func (g *ScopeGrant) Allows(op Operation) bool {
	for _, o := range g.Operations {
		if o == op {
			return true
		}
	}
	return false
}
