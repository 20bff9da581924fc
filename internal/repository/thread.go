package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sumire/relay/internal/domain"
)

const threadColumns = `id, order_id, participants, status, last_message_at, unread_counts, created_at, updated_at`

// ThreadRepository handles thread data access operations.
type ThreadRepository struct {
	db *sqlx.DB
}

// NewThreadRepository creates a new ThreadRepository.
func NewThreadRepository(db *sqlx.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

type threadRow struct {
	ID            uuid.UUID           `db:"id"`
	OrderID       int64               `db:"order_id"`
	Participants  []byte              `db:"participants"`
	Status        domain.ThreadStatus `db:"status"`
	LastMessageAt *time.Time          `db:"last_message_at"`
	UnreadCounts  []byte              `db:"unread_counts"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

func (r threadRow) toDomain() (*domain.Thread, error) {
	t := &domain.Thread{
		ID:            r.ID,
		OrderID:       r.OrderID,
		Status:        r.Status,
		LastMessageAt: r.LastMessageAt,
		UnreadCounts:  map[int64]int{},
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Participants, &t.Participants); err != nil {
		return nil, fmt.Errorf("decode participants of thread %s: %w", r.ID, err)
	}
	if len(r.UnreadCounts) > 0 {
		if err := json.Unmarshal(r.UnreadCounts, &t.UnreadCounts); err != nil {
			return nil, fmt.Errorf("decode unread counts of thread %s: %w", r.ID, err)
		}
	}
	return t, nil
}

func (r *ThreadRepository) findOne(ctx context.Context, where string, arg any) (*domain.Thread, error) {
	var row threadRow
	err := r.db.GetContext(ctx, &row, `SELECT `+threadColumns+` FROM threads WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

// FindByID retrieves a thread by its ID.
func (r *ThreadRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Thread, error) {
	t, err := r.findOne(ctx, `id = $1`, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find thread by id %s: %w", id, err)
	}
	return t, err
}

// FindByOrderID retrieves the thread bound to an order.
func (r *ThreadRepository) FindByOrderID(ctx context.Context, orderID int64) (*domain.Thread, error) {
	t, err := r.findOne(ctx, `order_id = $1`, orderID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find thread by order %d: %w", orderID, err)
	}
	return t, err
}

// Create inserts a thread. When a thread for the same order already exists
// the insert is skipped and the stored thread is returned.
func (r *ThreadRepository) Create(ctx context.Context, t domain.Thread) (*domain.Thread, error) {
	participants, err := json.Marshal(t.Participants)
	if err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}
	ids := make([]int64, 0, len(t.Participants))
	for _, p := range t.Participants {
		ids = append(ids, p.UserID)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO threads (id, order_id, participants, participant_ids, status, unread_counts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '{}'::jsonb, $6, $7)
		 ON CONFLICT (order_id) DO NOTHING`,
		t.ID, t.OrderID, participants, ids, t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}
	return r.FindByOrderID(ctx, t.OrderID)
}

// ListByParticipant returns one page of the user's threads, most recently
// active first. Threads without messages sort last.
func (r *ThreadRepository) ListByParticipant(ctx context.Context, userID int64, status *domain.ThreadStatus, page, limit int) ([]domain.Thread, error) {
	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}

	var rows []threadRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+threadColumns+`
		 FROM threads
		 WHERE $1 = ANY(participant_ids)
		   AND ($2::text IS NULL OR status = $2::text)
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		 LIMIT $3 OFFSET $4`,
		userID, statusArg, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list threads of user %d: %w", userID, err)
	}

	threads := make([]domain.Thread, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, nil
}

// RecordMessage advances last_message_at and bumps the unread counter of
// every recipient in one statement.
func (r *ThreadRepository) RecordMessage(ctx context.Context, id uuid.UUID, at time.Time, recipients []int64) error {
	if recipients == nil {
		recipients = []int64{}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads t
		 SET last_message_at = GREATEST(COALESCE(t.last_message_at, $2), $2),
		     unread_counts = t.unread_counts || COALESCE((
		         SELECT jsonb_object_agg(rc::text, COALESCE((t.unread_counts ->> rc::text)::int, 0) + 1)
		         FROM unnest($3::bigint[]) AS rc
		     ), '{}'::jsonb),
		     updated_at = $2
		 WHERE t.id = $1`,
		id, at, recipients,
	)
	if err != nil {
		return fmt.Errorf("record message on thread %s: %w", id, err)
	}
	return expectRow(res)
}

// ResetUnread zeroes the unread counter of userID.
func (r *ThreadRepository) ResetUnread(ctx context.Context, id uuid.UUID, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads
		 SET unread_counts = jsonb_set(unread_counts, ARRAY[$2::text], '0'::jsonb, true),
		     updated_at = NOW()
		 WHERE id = $1`,
		id, strconv.FormatInt(userID, 10),
	)
	if err != nil {
		return fmt.Errorf("reset unread on thread %s: %w", id, err)
	}
	return expectRow(res)
}

// SetStatus changes the status of a thread.
func (r *ThreadRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.ThreadStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE threads SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set status of thread %s: %w", id, err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}
