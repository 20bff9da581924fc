package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sumire/relay/internal/domain"
)

// MessageRepository handles message data access operations.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

type messageRow struct {
	ID             uuid.UUID             `db:"id"`
	ThreadID       uuid.UUID             `db:"thread_id"`
	SenderID       int64                 `db:"sender_id"`
	Kind           domain.MessageKind    `db:"kind"`
	Body           []byte                `db:"body"`
	DeliveryStatus domain.DeliveryStatus `db:"delivery_status"`
	CreatedAt      time.Time             `db:"created_at"`
}

// Create inserts a message.
func (r *MessageRepository) Create(ctx context.Context, m domain.Message) error {
	body, err := json.Marshal(m.Body)
	if err != nil {
		return fmt.Errorf("encode message body: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, sender_id, kind, body, delivery_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ThreadID, m.SenderID, m.Kind, body, m.DeliveryStatus, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListByThread returns up to limit messages of a thread created strictly
// before the cursor, newest first.
func (r *MessageRepository) ListByThread(ctx context.Context, threadID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, thread_id, sender_id, kind, body, delivery_status, created_at
		 FROM messages
		 WHERE thread_id = $1
		   AND ($2::timestamptz IS NULL OR created_at < $2::timestamptz)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		threadID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages of thread %s: %w", threadID, err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		m := domain.Message{
			ID:             row.ID,
			ThreadID:       row.ThreadID,
			SenderID:       row.SenderID,
			Kind:           row.Kind,
			DeliveryStatus: row.DeliveryStatus,
			CreatedAt:      row.CreatedAt,
		}
		if err := json.Unmarshal(row.Body, &m.Body); err != nil {
			return nil, fmt.Errorf("decode body of message %s: %w", row.ID, err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}
