// Package config holds keygate's startup configuration: the immutable key
// issuing/verification settings and the YAML file schema.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults for key settings.
const (
	DefaultKeyPrefix           = "ubiwhere"
	DefaultPublicIDLength      = 32
	DefaultPrivateSecretLength = 32
	DefaultAuthScheme          = "Api-Key"
)

// Keys is the immutable key-handling configuration. It is constructed once
// at startup and passed by reference into the issuer, verifier, and
// authorizer; there is no ambient mutable state.
type Keys struct {
	// Prefix is prepended to every issued key and identifies the issuing
	// system or environment. Must not contain the key delimiter.
	Prefix string

	// PublicIDLength and PrivateSecretLength are the generated lengths of
	// the key's public identifier and private secret.
	PublicIDLength      int
	PrivateSecretLength int

	// LogKeyUsage enables writing an audit event for every successful
	// verification.
	LogKeyUsage bool

	// EnableQueryParamAuth also accepts the key via a query parameter named
	// after the auth scheme, not only the Authorization header.
	EnableQueryParamAuth bool

	// AuthScheme is the Authorization header scheme (and query parameter
	// name) carrying the key.
	AuthScheme string

	// BcryptCost overrides the secret hashing cost. Zero means the bcrypt
	// default.
	BcryptCost int
}

// DefaultKeys returns the default key settings.
func DefaultKeys() Keys {
	return Keys{
		Prefix:               DefaultKeyPrefix,
		PublicIDLength:       DefaultPublicIDLength,
		PrivateSecretLength:  DefaultPrivateSecretLength,
		LogKeyUsage:          true,
		EnableQueryParamAuth: false,
		AuthScheme:           DefaultAuthScheme,
	}
}

// KeysFromViper builds key settings from viper (flags, env, config file),
// falling back to defaults for unset values.
func KeysFromViper(v *viper.Viper) (Keys, error) {
	k := DefaultKeys()

	if v.IsSet("keys.prefix") {
		k.Prefix = v.GetString("keys.prefix")
	}
	if v.IsSet("keys.public_id_length") {
		k.PublicIDLength = v.GetInt("keys.public_id_length")
	}
	if v.IsSet("keys.private_secret_length") {
		k.PrivateSecretLength = v.GetInt("keys.private_secret_length")
	}
	if v.IsSet("keys.log_key_usage") {
		k.LogKeyUsage = v.GetBool("keys.log_key_usage")
	}
	if v.IsSet("keys.enable_query_param_auth") {
		k.EnableQueryParamAuth = v.GetBool("keys.enable_query_param_auth")
	}
	if v.IsSet("keys.auth_scheme") {
		k.AuthScheme = v.GetString("keys.auth_scheme")
	}
	if v.IsSet("keys.bcrypt_cost") {
		k.BcryptCost = v.GetInt("keys.bcrypt_cost")
	}

	if err := k.Validate(); err != nil {
		return Keys{}, err
	}
	return k, nil
}

// Validate checks the key settings for values that would produce broken or
// unparseable keys.
func (k Keys) Validate() error {
	if k.Prefix == "" {
		return fmt.Errorf("keys.prefix must not be empty")
	}
	if strings.Contains(k.Prefix, "_") {
		return fmt.Errorf("keys.prefix %q must not contain the key delimiter %q", k.Prefix, "_")
	}
	if k.PublicIDLength < 16 {
		return fmt.Errorf("keys.public_id_length %d is below the minimum of 16", k.PublicIDLength)
	}
	if k.PrivateSecretLength < 16 {
		return fmt.Errorf("keys.private_secret_length %d is below the minimum of 16", k.PrivateSecretLength)
	}
	if k.AuthScheme == "" {
		return fmt.Errorf("keys.auth_scheme must not be empty")
	}
	return nil
}
