package model

import "time"

// ResourceType is one entry in the catalog of resource kinds the host
// application exposes. Scope grants reference resource types by ID; the
// authorizer only needs equality comparison and enumeration.
type ResourceType struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Label     string    `json:"label" db:"label"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
