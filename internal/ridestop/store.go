package ridestop

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store lookups that miss. Callers treat it as a
// no-op signal, never as a fault.
var ErrNotFound = errors.New("not found")

// Store is the persistence the coordinator needs: ride-stop records and the
// SOS contact configuration. The MySQL implementation lives in internal/store.
type Store interface {
	CreateStop(ctx context.Context, stop *RideStop) error
	GetStop(ctx context.Context, id string) (*RideStop, error)
	UpdateStop(ctx context.Context, stop *RideStop) error
	DeleteStop(ctx context.Context, id string) error
	GetSOSContact(ctx context.Context, userID string) (*SOSContact, error)
}
