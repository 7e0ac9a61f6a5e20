package repositories

import (
	"context"

	"github.com/cliplens/backend/internal/models"
)

// SessionRepository persists importer credential sessions.
//
// Activate inserts the new session and deactivates any prior active session
// for the same owner in one transaction, keeping at most one active session
// per owner at all times.
type SessionRepository interface {
	Activate(ctx context.Context, session models.OwnerSession) (models.OwnerSession, error)
	Active(ctx context.Context, ownerID int64) (models.OwnerSession, error)
	Touch(ctx context.Context, sessionID string) error
	Deactivate(ctx context.Context, ownerID int64) error
}
