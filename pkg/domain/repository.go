package domain

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the capability contract every record backend satisfies.
// Implementations must be safe for concurrent use and must hand out copies
// that callers can mutate freely.
type Repository interface {
	// FindAll returns every stored record in no particular order.
	FindAll(ctx context.Context) ([]Record, error)
	// FindByID reports found=false, not an error, for an absent id.
	FindByID(ctx context.Context, id string) (Record, bool, error)
	// Create stores a new record. It fails with a *ConflictError when the id
	// is already taken.
	Create(ctx context.Context, rec Record) (Record, error)
	// Update replaces the whole record stored under id. It fails with a
	// *NotFoundError when id is absent.
	Update(ctx context.Context, id string, rec Record) (Record, error)
	// Delete removes id and reports whether a record was removed.
	Delete(ctx context.Context, id string) (bool, error)
}

// IDGenerator produces fresh record identifiers. Implementations must not
// return the same value twice.
type IDGenerator func() string

// NewID is the default IDGenerator backed by random UUIDs.
func NewID() string {
	return uuid.NewString()
}
