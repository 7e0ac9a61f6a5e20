package repositories

import (
	"context"

	"github.com/cliplens/backend/internal/models"
)

// NewOwner carries the fields required to register a library owner.
type NewOwner struct {
	Username string
	Email    string
	Password string
}

// OwnerRepository exposes data access for library owners.
type OwnerRepository interface {
	Create(ctx context.Context, owner NewOwner) (models.LibraryOwner, error)
	FindByID(ctx context.Context, id int64) (models.LibraryOwner, error)
	FindByUsername(ctx context.Context, username string) (models.LibraryOwner, error)
}
