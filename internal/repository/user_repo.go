package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront-auth/internal/model"
)

const uniqueViolation = "23505"

const identityColumns = `id, email, username, gender, password_hash, is_admin, verified, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanIdentity(row pgx.Row) (model.Identity, error) {
	var u model.Identity
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Gender, &u.PasswordHash,
		&u.IsAdmin, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *UserRepository) Create(ctx context.Context, u model.Identity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO identities (`+identityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, strings.ToLower(u.Email), u.Username, u.Gender, u.PasswordHash,
		u.IsAdmin, u.Verified, u.CreatedAt, u.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return model.ErrUserAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.Identity, error) {
	u, err := scanIdentity(r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by id: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	u, err := scanIdentity(r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by email: %w", err)
	}
	return u, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// MarkVerified flips the verified flag and reports whether this call changed it.
func (r *UserRepository) MarkVerified(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET verified = true, updated_at = $2 WHERE id = $1 AND NOT verified`,
		id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark identity verified: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.FindByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (model.Identity, error) {
	u, err := scanIdentity(r.pool.QueryRow(ctx,
		`UPDATE identities
		 SET username = COALESCE($2, username),
		     gender = COALESCE($3, gender),
		     updated_at = $4
		 WHERE id = $1
		 RETURNING `+identityColumns,
		id, update.Username, update.Gender, time.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}
