package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orgchat/internal/logger"
	"github.com/orgchat/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `id, chat_id, sender_id, type, content, reply_to_id, status, deleted_at, created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Type, &m.Content, &m.ReplyToID,
		&m.Status, &m.DeletedAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create persists the message and its attachments in one transaction.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("message.Create", time.Now())()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messageRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, type, content, reply_to_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ChatID, m.SenderID, m.Type, m.Content, m.ReplyToID, m.Status, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("messageRepo.Create insert: %w", err)
	}

	for i := range m.Attachments {
		a := &m.Attachments[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.MessageID = m.ID
		a.CreatedAt = m.CreatedAt
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_attachments (id, message_id, file_name, file_url, file_type, file_size, thumbnail_url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.ID, a.MessageID, a.FileName, a.FileURL, a.FileType, a.FileSize, a.ThumbnailURL, a.CreatedAt,
		); err != nil {
			return fmt.Errorf("messageRepo.Create attachment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messageRepo.Create commit: %w", err)
	}
	return nil
}

// GetByID returns a message scoped to the chat, without hydration.
func (r *MessageRepository) GetByID(ctx context.Context, chatID, messageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("message.GetByID", time.Now())()
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND chat_id = $2`,
		messageID, chatID,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("messageRepo.GetByID: %w", err)
	}
	return m, err
}

// ListPage returns one page of a chat's messages in chronological order,
// with attachments and reply targets hydrated. When beforeMessageID is set
// the page ends strictly before that message.
func (r *MessageRepository) ListPage(ctx context.Context, chatID string, page, limit int, beforeMessageID string) (*model.MessagePage, error) {
	defer logger.DeferLogDuration("message.ListPage", time.Now())()

	where := `FROM messages WHERE chat_id = $1 AND deleted_at IS NULL`
	args := []any{chatID}
	if beforeMessageID != "" {
		args = append(args, beforeMessageID, chatID)
		where += fmt.Sprintf(` AND created_at < (SELECT created_at FROM messages WHERE id = $%d AND chat_id = $%d)`,
			len(args)-1, len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("messageRepo.ListPage count: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` `+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.ListPage query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Type, &m.Content, &m.ReplyToID,
			&m.Status, &m.DeletedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messageRepo.ListPage scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.ListPage rows: %w", err)
	}

	// Query newest-first for the offset, return oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := r.hydrate(ctx, messages); err != nil {
		return nil, err
	}

	return &model.MessagePage{Messages: messages, Total: total, Page: page, Limit: limit}, nil
}

// hydrate fills attachments and reply-to previews for a page of messages.
func (r *MessageRepository) hydrate(ctx context.Context, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, 0, len(messages))
	index := make(map[string]*model.Message, len(messages))
	replyIDs := make([]string, 0)
	for i := range messages {
		m := &messages[i]
		ids = append(ids, m.ID)
		index[m.ID] = m
		if m.ReplyToID != nil {
			replyIDs = append(replyIDs, *m.ReplyToID)
		}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, message_id, file_name, file_url, file_type, file_size, thumbnail_url, created_at
		 FROM message_attachments WHERE message_id = ANY($1) ORDER BY created_at`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.hydrate attachments query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.MessageAttachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileURL, &a.FileType,
			&a.FileSize, &a.ThumbnailURL, &a.CreatedAt); err != nil {
			return fmt.Errorf("messageRepo.hydrate attachments scan: %w", err)
		}
		if m, ok := index[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("messageRepo.hydrate attachments rows: %w", err)
	}

	if len(replyIDs) == 0 {
		return nil
	}
	replyRows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, replyIDs,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.hydrate replies query: %w", err)
	}
	defer replyRows.Close()
	replies := make(map[string]*model.Message, len(replyIDs))
	for replyRows.Next() {
		var m model.Message
		if err := replyRows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Type, &m.Content, &m.ReplyToID,
			&m.Status, &m.DeletedAt, &m.CreatedAt); err != nil {
			return fmt.Errorf("messageRepo.hydrate replies scan: %w", err)
		}
		replies[m.ID] = &m
	}
	if err := replyRows.Err(); err != nil {
		return fmt.Errorf("messageRepo.hydrate replies rows: %w", err)
	}
	for i := range messages {
		m := &messages[i]
		if m.ReplyToID != nil {
			m.ReplyTo = replies[*m.ReplyToID]
		}
	}
	return nil
}

// SoftDelete marks a message deleted in place. Only the sender may delete.
func (r *MessageRepository) SoftDelete(ctx context.Context, chatID, messageID, senderID string) error {
	defer logger.DeferLogDuration("message.SoftDelete", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_at = now()
		 WHERE id = $1 AND chat_id = $2 AND sender_id = $3 AND deleted_at IS NULL`,
		messageID, chatID, senderID,
	)
	if err != nil {
		return fmt.Errorf("messageRepo.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SenderIDs returns the distinct sender ids over a set of messages, limited
// to messages in chats the recipient is an active member of. Ids outside the
// recipient's chats contribute nothing.
func (r *MessageRepository) SenderIDs(ctx context.Context, messageIDs []string, recipientID string) ([]string, error) {
	defer logger.DeferLogDuration("message.SenderIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT m.sender_id FROM messages m
		 JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.user_id = $2 AND cm.status = 'active'
		 WHERE m.id = ANY($1)`,
		messageIDs, recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("messageRepo.SenderIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("messageRepo.SenderIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messageRepo.SenderIDs rows: %w", err)
	}
	return ids, nil
}
