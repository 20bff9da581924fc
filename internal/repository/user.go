package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/relay/internal/domain"
)

// UserRepository reads display metadata from the identity service's users table.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindProfiles loads the profiles of userIDs in a single query. Unknown ids
// are absent from the result.
func (r *UserRepository) FindProfiles(ctx context.Context, userIDs []int64) (map[int64]domain.Profile, error) {
	profiles := make(map[int64]domain.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, display_name, avatar_url FROM users WHERE id IN (?)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("build profile query: %w", err)
	}

	var rows []domain.Profile
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}
	for _, p := range rows {
		profiles[p.UserID] = p
	}
	return profiles, nil
}
