package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/sonoral/internal/apperr"
	"github.com/dharsanguruparan/sonoral/internal/database"
	"github.com/dharsanguruparan/sonoral/internal/model"
)

// InsertUser stores u and sets its id.
func (r *Postgres) InsertUser(ctx context.Context, q database.Querier, u *model.UserRecord) (int64, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO users (firebase_id, email, username) VALUES ($1,$2,$3) RETURNING id
	`, u.FirebaseID, u.Email, u.Username).Scan(&u.ID)
	if err != nil {
		return 0, apperr.Persistence.Wrap(fmt.Errorf("insert user: %w", err))
	}
	return u.ID, nil
}

// FindUserByID returns one user.
func (r *Postgres) FindUserByID(ctx context.Context, q database.Querier, id int64) (*model.UserRecord, error) {
	var u model.UserRecord
	err := q.QueryRow(ctx, `SELECT id, firebase_id, email, username FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.FirebaseID, &u.Email, &u.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound.Wrap(fmt.Errorf("user %d: %w", id, apperr.ErrNotFound))
		}
		return nil, apperr.Persistence.Wrap(fmt.Errorf("select user: %w", err))
	}
	return &u, nil
}

// InsertComposition stores c and sets its id.
func (r *Postgres) InsertComposition(ctx context.Context, q database.Querier, c *model.CompositionRecord) (int64, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO compositions (info, creating_user_id) VALUES ($1,$2) RETURNING id
	`, c.Info, c.CreatingUserID).Scan(&c.ID)
	if err != nil {
		return 0, apperr.Persistence.Wrap(fmt.Errorf("insert composition: %w", err))
	}
	return c.ID, nil
}

// FindCompositionByID returns one composition.
func (r *Postgres) FindCompositionByID(ctx context.Context, q database.Querier, id int64) (*model.CompositionRecord, error) {
	var (
		c    model.CompositionRecord
		info *string
	)
	err := q.QueryRow(ctx, `SELECT id, info, creating_user_id FROM compositions WHERE id=$1`, id).
		Scan(&c.ID, &info, &c.CreatingUserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound.Wrap(fmt.Errorf("composition %d: %w", id, apperr.ErrNotFound))
		}
		return nil, apperr.Persistence.Wrap(fmt.Errorf("select composition: %w", err))
	}
	if info != nil {
		c.Info = *info
	}
	return &c, nil
}
