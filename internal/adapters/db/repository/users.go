package repository

import (
	"context"
	"fmt"

	"sceneflow/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, email, contact_id`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.ContactID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	sql := fmt.Sprintf(`SELECT %s FROM ordering_user WHERE username = $1`, userColumns)
	user, err := scanUser(r.Conn.QueryRow(ctx, sql, username))
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", username, err)
	}
	return user, nil
}

func (r *Repository) UserByContactID(ctx context.Context, contactID string) (*domain.User, error) {
	sql := fmt.Sprintf(`SELECT %s FROM ordering_user WHERE contact_id = $1`, userColumns)
	user, err := scanUser(r.Conn.QueryRow(ctx, sql, contactID))
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("user contact %s: %w", contactID, err)
	}
	return user, nil
}

func (r *Repository) InsertUser(ctx context.Context, user *domain.User) error {
	const sql = `
INSERT INTO ordering_user (username, email, contact_id)
VALUES ($1, $2, $3)
ON CONFLICT (contact_id) DO UPDATE SET email = EXCLUDED.email
RETURNING id`
	if err := r.Conn.QueryRow(ctx, sql, user.Username, user.Email, user.ContactID).Scan(&user.ID); err != nil {
		return fmt.Errorf("insert user %s: %w", user.Username, err)
	}
	return nil
}
