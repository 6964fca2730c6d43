package service

import "errors"

var (
	// ErrInvalidKey covers every key verification failure: malformed input,
	// unknown key, expired key, and wrong secret. Callers must not reveal
	// which one occurred; respond with MsgInvalidKey.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrInsufficientScope means the key verified but its grants do not
	// cover the requested resource type and operation.
	ErrInsufficientScope = errors.New("insufficient scopes")

	// ErrKeyCollision means issuing exhausted its retry budget without
	// finding an unused public identifier.
	ErrKeyCollision = errors.New("could not generate a unique key identifier")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

// External response messages for authentication and authorization failures.
// Verification failures share one message so callers cannot probe which
// stage rejected the key.
const (
	MsgInvalidKey        = "Provided API key is invalid"
	MsgInsufficientScope = "Provided API key is valid, but has insufficient scopes"
)
