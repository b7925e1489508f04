// Package store persists one enablement record per sensor.
package store

import (
	"context"
	"errors"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound = errors.New("sensor record not found")
	ErrExists   = errors.New("sensor record already exists")
)

// Record is the persisted enablement state of a sensor.
type Record struct {
	UniqueID string `json:"unique_id"`
	Enabled  bool   `json:"enabled"`

	// Reserved; never mutated by reconciliation.
	Registered bool   `json:"registered"`
	Icon       string `json:"icon,omitempty"`

	// State is the last-known stringified sensor value.
	State string `json:"state"`
}

// Store is the narrow read-modify-write contract the reconciler relies on.
// Get returns ErrNotFound for an unknown id; absence is a normal state.
type Store interface {
	Get(ctx context.Context, uniqueID string) (*Record, error)
	Add(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]Record, error)
}
