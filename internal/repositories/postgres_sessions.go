package repositories

import (
	"context"
	"errors"
	"fmt"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cliplens/backend/internal/db"
	"github.com/cliplens/backend/internal/models"
)

// PostgresSessionRepository persists importer credential sessions to PostgreSQL.
type PostgresSessionRepository struct {
	pool db.Pool
}

// NewPostgresSessionRepository constructs a session repository backed by PostgreSQL.
func NewPostgresSessionRepository(pool db.Pool) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool}
}

// Activate stores a new active session for the owner, deactivating any prior
// active sessions in the same transaction.
func (s *PostgresSessionRepository) Activate(ctx context.Context, session models.OwnerSession) (models.OwnerSession, error) {
	if session.OwnerID == 0 {
		return models.OwnerSession{}, errors.New("session owner id must be provided")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Active = true

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.OwnerSession{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            UPDATE owner_sessions SET active = FALSE
            WHERE owner_id = $1 AND active
        `, session.OwnerID); err != nil {
			return fmt.Errorf("deactivate prior sessions: %w", err)
		}

		row := tx.QueryRow(ctx, `
            INSERT INTO owner_sessions (id, owner_id, provider_handle, credentials, login_method, active, expires_at)
            VALUES ($1, $2, $3, $4, $5, TRUE, $6)
            RETURNING created_at, last_activity_at
        `, session.ID, session.OwnerID, session.ProviderHandle, session.Credentials, session.LoginMethod, session.ExpiresAt.UTC())
		if err := row.Scan(&session.CreatedAt, &session.LastActivityAt); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.OwnerSession{}, err
	}
	return session, nil
}

// Active returns the owner's single active session, or ErrNotFound.
func (s *PostgresSessionRepository) Active(ctx context.Context, ownerID int64) (models.OwnerSession, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.OwnerSession{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, owner_id, provider_handle, credentials, login_method, active,
               created_at, last_activity_at, expires_at
        FROM owner_sessions
        WHERE owner_id = $1 AND active
    `, ownerID)

	var session models.OwnerSession
	if err := row.Scan(
		&session.ID, &session.OwnerID, &session.ProviderHandle, &session.Credentials, &session.LoginMethod, &session.Active,
		&session.CreatedAt, &session.LastActivityAt, &session.ExpiresAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.OwnerSession{}, ErrNotFound
		}
		return models.OwnerSession{}, fmt.Errorf("select active session: %w", err)
	}
	return session, nil
}

// Touch refreshes a session's last-activity timestamp.
func (s *PostgresSessionRepository) Touch(ctx context.Context, sessionID string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE owner_sessions SET last_activity_at = NOW()
        WHERE id = $1
    `, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate marks all of an owner's sessions inactive.
func (s *PostgresSessionRepository) Deactivate(ctx context.Context, ownerID int64) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
        UPDATE owner_sessions SET active = FALSE
        WHERE owner_id = $1 AND active
    `, ownerID); err != nil {
		return fmt.Errorf("deactivate sessions: %w", err)
	}
	return nil
}

var _ SessionRepository = (*PostgresSessionRepository)(nil)
