package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/cliplens/backend/internal/db"
	"github.com/cliplens/backend/internal/models"
)

// PostgresOwnerRepository provides PostgreSQL-backed persistence for library owners.
type PostgresOwnerRepository struct {
	pool db.Pool
}

// NewPostgresOwnerRepository constructs an owner repository backed by PostgreSQL.
func NewPostgresOwnerRepository(pool db.Pool) *PostgresOwnerRepository {
	return &PostgresOwnerRepository{pool: pool}
}

// Create registers a new library owner, hashing the supplied password.
func (r *PostgresOwnerRepository) Create(ctx context.Context, owner NewOwner) (models.LibraryOwner, error) {
	username := strings.TrimSpace(owner.Username)
	email := strings.TrimSpace(strings.ToLower(owner.Email))
	if username == "" || email == "" {
		return models.LibraryOwner{}, errors.New("owner username and email must be provided")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(owner.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.LibraryOwner{}, fmt.Errorf("hash owner password: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.LibraryOwner{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        INSERT INTO library_owners (username, email, password_hash)
        VALUES ($1, $2, $3)
        RETURNING id, created_at
    `, username, email, string(hash))

	out := models.LibraryOwner{Username: username, Email: email, PasswordHash: string(hash)}
	if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.LibraryOwner{}, ErrDuplicateOwner
		}
		return models.LibraryOwner{}, fmt.Errorf("insert owner: %w", err)
	}

	return out, nil
}

// FindByID fetches an owner by identifier.
func (r *PostgresOwnerRepository) FindByID(ctx context.Context, id int64) (models.LibraryOwner, error) {
	return r.findOne(ctx, `
        SELECT id, username, email, password_hash, created_at
        FROM library_owners
        WHERE id = $1
    `, id)
}

// FindByUsername fetches an owner by username.
func (r *PostgresOwnerRepository) FindByUsername(ctx context.Context, username string) (models.LibraryOwner, error) {
	return r.findOne(ctx, `
        SELECT id, username, email, password_hash, created_at
        FROM library_owners
        WHERE username = $1
    `, strings.TrimSpace(username))
}

func (r *PostgresOwnerRepository) findOne(ctx context.Context, query string, arg any) (models.LibraryOwner, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.LibraryOwner{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var owner models.LibraryOwner
	row := conn.QueryRow(ctx, query, arg)
	if err := row.Scan(&owner.ID, &owner.Username, &owner.Email, &owner.PasswordHash, &owner.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.LibraryOwner{}, ErrNotFound
		}
		return models.LibraryOwner{}, fmt.Errorf("select owner: %w", err)
	}
	return owner, nil
}

var _ OwnerRepository = (*PostgresOwnerRepository)(nil)
