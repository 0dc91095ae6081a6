package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/model"
)

// ReceiptRepository stores per-(message, user) delivery and read receipts.
// Both timestamps are write-once: an existing value is never overwritten, so
// concurrent duplicate acknowledgements keep the earliest timestamp.
type ReceiptRepository struct {
	pool *pgxpool.Pool
}

func NewReceiptRepository(pool *pgxpool.Pool) *ReceiptRepository {
	return &ReceiptRepository{pool: pool}
}

// MarkDelivered records delivery of the given messages to the user. Rows are
// only created for messages the user is an active member of: receipts exist
// per non-sender recipient, so acks for foreign chats or the user's own
// messages insert nothing. Safe to call repeatedly and concurrently: the
// upsert keeps an already-set delivered_at.
func (r *ReceiptRepository) MarkDelivered(ctx context.Context, messageIDs []string, userID string, at time.Time) error {
	defer logger.DeferLogDuration("receipt.MarkDelivered", time.Now())()
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_read_statuses (message_id, user_id, delivered_at)
		 SELECT m.id, $2, $3 FROM messages m
		 JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.user_id = $2 AND cm.status = 'active'
		 WHERE m.id = ANY($1) AND m.sender_id != $2
		 ON CONFLICT (message_id, user_id)
		 DO UPDATE SET delivered_at = COALESCE(message_read_statuses.delivered_at, EXCLUDED.delivered_at)`,
		messageIDs, userID, at,
	)
	if err != nil {
		return fmt.Errorf("receiptRepo.MarkDelivered: %w", err)
	}
	return nil
}

// MarkRead records the user reading the given messages. A read implies
// delivery, so a missing delivered_at is set alongside. Both columns stay
// write-once under the COALESCE upsert, and the same membership join as
// MarkDelivered keeps non-recipients out.
func (r *ReceiptRepository) MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) error {
	defer logger.DeferLogDuration("receipt.MarkRead", time.Now())()
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_read_statuses (message_id, user_id, delivered_at, read_at)
		 SELECT m.id, $2, $3, $3 FROM messages m
		 JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.user_id = $2 AND cm.status = 'active'
		 WHERE m.id = ANY($1) AND m.sender_id != $2
		 ON CONFLICT (message_id, user_id)
		 DO UPDATE SET delivered_at = COALESCE(message_read_statuses.delivered_at, EXCLUDED.delivered_at),
		               read_at      = COALESCE(message_read_statuses.read_at, EXCLUDED.read_at)`,
		messageIDs, userID, at,
	)
	if err != nil {
		return fmt.Errorf("receiptRepo.MarkRead: %w", err)
	}
	return nil
}

// Statuses returns all receipt rows for the given messages, keyed by message
// id. Messages with no receipts yet are absent from the map.
func (r *ReceiptRepository) Statuses(ctx context.Context, messageIDs []string) (map[string][]model.MessageReadStatus, error) {
	defer logger.DeferLogDuration("receipt.Statuses", time.Now())()
	if len(messageIDs) == 0 {
		return map[string][]model.MessageReadStatus{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, user_id, delivered_at, read_at
		 FROM message_read_statuses WHERE message_id = ANY($1)`,
		messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("receiptRepo.Statuses query: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.MessageReadStatus, len(messageIDs))
	for rows.Next() {
		var s model.MessageReadStatus
		if err := rows.Scan(&s.MessageID, &s.UserID, &s.DeliveredAt, &s.ReadAt); err != nil {
			return nil, fmt.Errorf("receiptRepo.Statuses scan: %w", err)
		}
		out[s.MessageID] = append(out[s.MessageID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receiptRepo.Statuses rows: %w", err)
	}
	return out, nil
}

// Status returns the receipt row for one (message, user) pair, or ErrNotFound.
func (r *ReceiptRepository) Status(ctx context.Context, messageID, userID string) (*model.MessageReadStatus, error) {
	defer logger.DeferLogDuration("receipt.Status", time.Now())()
	s := &model.MessageReadStatus{}
	err := r.pool.QueryRow(ctx,
		`SELECT message_id, user_id, delivered_at, read_at
		 FROM message_read_statuses WHERE message_id = $1 AND user_id = $2`,
		messageID, userID,
	).Scan(&s.MessageID, &s.UserID, &s.DeliveredAt, &s.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("receiptRepo.Status: %w", err)
	}
	return s, nil
}
