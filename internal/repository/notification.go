package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sumire/relay/internal/domain"
)

const notificationColumns = `id, user_id, title, message, severity, type, data, read_at, created_at`

// NotificationRepository handles notification data access operations.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

type notificationRow struct {
	ID        uuid.UUID               `db:"id"`
	UserID    int64                   `db:"user_id"`
	Title     string                  `db:"title"`
	Message   string                  `db:"message"`
	Severity  domain.Severity         `db:"severity"`
	Type      domain.NotificationType `db:"type"`
	Data      []byte                  `db:"data"`
	ReadAt    *time.Time              `db:"read_at"`
	CreatedAt time.Time               `db:"created_at"`
}

func (r notificationRow) toDomain() (*domain.Notification, error) {
	n := &domain.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Message:   r.Message,
		Severity:  r.Severity,
		Type:      r.Type,
		ReadAt:    r.ReadAt,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode data of notification %s: %w", r.ID, err)
		}
	}
	return n, nil
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n domain.Notification) error {
	data := []byte(`{}`)
	if n.Data != nil {
		var err error
		if data, err = json.Marshal(n.Data); err != nil {
			return fmt.Errorf("encode notification data: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, message, severity, type, data, read_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.UserID, n.Title, n.Message, n.Severity, n.Type, data, n.ReadAt, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListByUser returns up to limit notifications of a user created strictly
// before the cursor, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID int64, before *time.Time, limit int) ([]domain.Notification, error) {
	var rows []notificationRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE user_id = $1
		   AND ($2::timestamptz IS NULL OR created_at < $2::timestamptz)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		userID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications of user %d: %w", userID, err)
	}

	out := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

// MarkRead sets read_at on one notification owned by userID. An already read
// notification keeps its original read_at.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) (*domain.Notification, error) {
	var row notificationRow
	err := r.db.QueryRowxContext(ctx,
		`UPDATE notifications
		 SET read_at = COALESCE(read_at, $3)
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+notificationColumns,
		id, userID, at,
	).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return row.toDomain()
}

// MarkAllRead sets read_at on every unread notification of userID.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = $2 WHERE user_id = $1 AND read_at IS NULL`,
		userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications of user %d read: %w", userID, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

// Delete removes a notification owned by userID and reports whether a row
// was removed.
func (r *NotificationRepository) Delete(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete notification %s: %w", id, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return count > 0, nil
}
