package store

import "errors"

// ErrNotFound is returned when a requested record does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint, most
// importantly the api_keys.public_id uniqueness the issuer relies on.
var ErrDuplicate = errors.New("duplicate record")
