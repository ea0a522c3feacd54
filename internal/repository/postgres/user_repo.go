package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventedge/hypepipe/internal/domain"
)

// UserRepo — учетные записи консоли (hypepipe_users).
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetUserByUsername возвращает (nil, nil), если пользователь не найден:
// сервис сам решает, как маскировать отказ.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, tier, scopes, created_at, updated_at
		FROM hypepipe_users
		WHERE username = $1`, username).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Tier, &u.Scopes,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch user: %w", err)
	}
	return &u, nil
}
