package model

import "time"

// KeyUsageEvent is an audit record of a successful API key authentication.
// Written only when usage logging is enabled; headers and meta are stored as
// JSON blobs.
type KeyUsageEvent struct {
	ID        int64     `json:"id" db:"id"`
	APIKeyID  int64     `json:"api_key_id" db:"api_key_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	Operation string    `json:"operation" db:"operation"`
	Headers   string    `json:"headers,omitempty" db:"headers"`
	Meta      string    `json:"meta,omitempty" db:"meta"`
	Body      string    `json:"body,omitempty" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
