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

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

const chatColumns = `id, organization_id, type, COALESCE(name,''), COALESCE(description,''), status, created_by, last_message_at, last_message_id, created_at`

func scanChat(row pgx.Row) (*model.Chat, error) {
	c := &model.Chat{}
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Type, &c.Name, &c.Description, &c.Status,
		&c.CreatedBy, &c.LastMessageAt, &c.LastMessageID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateDirect finds or creates the direct chat between two users inside one
// organization. Check-then-create runs inside a transaction holding an
// advisory lock on the unordered pair, so two concurrent calls for the same
// pair cannot both insert. Returns the chat and whether it was created.
func (r *ChatRepository) CreateDirect(ctx context.Context, orgID, userA, userB string) (*model.Chat, bool, error) {
	defer logger.DeferLogDuration("chat.CreateDirect", time.Now())()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("chatRepo.CreateDirect begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Unordered pair key so (A,B) and (B,A) contend on the same lock.
	lo, hi := userA, userB
	if hi < lo {
		lo, hi = hi, lo
	}
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		orgID+":"+lo+":"+hi,
	); err != nil {
		return nil, false, fmt.Errorf("chatRepo.CreateDirect lock: %w", err)
	}

	existing, err := findDirect(ctx, tx, orgID, userA, userB)
	if err == nil {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, false, fmt.Errorf("chatRepo.CreateDirect commit: %w", commitErr)
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	c := &model.Chat{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Type:           model.ChatTypeDirect,
		Status:         model.ChatStatusActive,
		CreatedBy:      userA,
		CreatedAt:      now,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chats (id, organization_id, type, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.OrganizationID, c.Type, c.Status, c.CreatedBy, c.CreatedAt,
	); err != nil {
		return nil, false, fmt.Errorf("chatRepo.CreateDirect insert chat: %w", err)
	}
	for _, uid := range []string{userA, userB} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id, role, status, joined_at)
			 VALUES ($1, $2, 'member', 'active', $3)`,
			c.ID, uid, now,
		); err != nil {
			return nil, false, fmt.Errorf("chatRepo.CreateDirect insert member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("chatRepo.CreateDirect commit: %w", err)
	}
	return c, true, nil
}

// FindDirect returns the active direct chat containing both users, if any.
func (r *ChatRepository) FindDirect(ctx context.Context, orgID, userA, userB string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindDirect", time.Now())()
	return findDirect(ctx, r.pool, orgID, userA, userB)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findDirect(ctx context.Context, q querier, orgID, userA, userB string) (*model.Chat, error) {
	c, err := scanChat(q.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM chats c
		 WHERE c.organization_id = $1 AND c.type = 'direct' AND c.status = 'active'
		   AND EXISTS (SELECT 1 FROM chat_members WHERE chat_id = c.id AND user_id = $2 AND status = 'active')
		   AND EXISTS (SELECT 1 FROM chat_members WHERE chat_id = c.id AND user_id = $3 AND status = 'active')`,
		orgID, userA, userB,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("chatRepo.findDirect: %w", err)
	}
	return c, err
}

// CreateGroup creates a group chat with the creator as owner and the given
// members, all inside one transaction.
func (r *ChatRepository) CreateGroup(ctx context.Context, c *model.Chat, memberIDs []string) error {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatRepo.CreateGroup begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO chats (id, organization_id, type, name, description, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OrganizationID, c.Type, c.Name, c.Description, c.Status, c.CreatedBy, c.CreatedAt,
	); err != nil {
		return fmt.Errorf("chatRepo.CreateGroup insert chat: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_members (chat_id, user_id, role, status, joined_at)
		 VALUES ($1, $2, 'owner', 'active', $3)`,
		c.ID, c.CreatedBy, c.CreatedAt,
	); err != nil {
		return fmt.Errorf("chatRepo.CreateGroup insert owner: %w", err)
	}
	for _, uid := range memberIDs {
		if uid == c.CreatedBy {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id, role, status, joined_at)
			 VALUES ($1, $2, 'member', 'active', $3) ON CONFLICT DO NOTHING`,
			c.ID, uid, c.CreatedAt,
		); err != nil {
			return fmt.Errorf("chatRepo.CreateGroup insert member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatRepo.CreateGroup commit: %w", err)
	}
	return nil
}

// GetByID returns a chat scoped to the organization. Cross-org ids are
// indistinguishable from missing ones.
func (r *ChatRepository) GetByID(ctx context.Context, orgID, chatID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c, err := scanChat(r.pool.QueryRow(ctx,
		`SELECT `+chatColumns+` FROM chats c WHERE c.id = $1 AND c.organization_id = $2`,
		chatID, orgID,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, err
}

func (r *ChatRepository) UpdateChat(ctx context.Context, chatID, name, description string) error {
	defer logger.DeferLogDuration("chat.UpdateChat", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET name = $1, description = $2 WHERE id = $3`,
		name, description, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.UpdateChat: %w", err)
	}
	return nil
}

func (r *ChatRepository) SetStatus(ctx context.Context, chatID string, status model.ChatStatus) error {
	defer logger.DeferLogDuration("chat.SetStatus", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET status = $1 WHERE id = $2`, status, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetStatus: %w", err)
	}
	return nil
}

// SetLastMessage advances the chat's last-message pointer.
func (r *ChatRepository) SetLastMessage(ctx context.Context, chatID, messageID string, at time.Time) error {
	defer logger.DeferLogDuration("chat.SetLastMessage", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET last_message_at = $1, last_message_id = $2 WHERE id = $3`,
		at, messageID, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetLastMessage: %w", err)
	}
	return nil
}

const memberColumns = `chat_id, user_id, role, status, unread_count, last_read_at, notifications_enabled, joined_at`

func scanMember(row pgx.Row) (*model.ChatMember, error) {
	m := &model.ChatMember{}
	err := row.Scan(&m.ChatID, &m.UserID, &m.Role, &m.Status, &m.UnreadCount,
		&m.LastReadAt, &m.NotificationsEnabled, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMember returns the membership row for (chat, user) regardless of status.
func (r *ChatRepository) GetMember(ctx context.Context, chatID, userID string) (*model.ChatMember, error) {
	defer logger.DeferLogDuration("chat.GetMember", time.Now())()
	m, err := scanMember(r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM chat_members WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("chatRepo.GetMember: %w", err)
	}
	return m, err
}

// GetMembers returns all membership rows of a chat, active or not.
func (r *ChatRepository) GetMembers(ctx context.Context, chatID string) ([]model.ChatMember, error) {
	defer logger.DeferLogDuration("chat.GetMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+memberColumns+` FROM chat_members WHERE chat_id = $1 ORDER BY joined_at`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.ChatMember, 0, 8)
	for rows.Next() {
		var m model.ChatMember
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.Role, &m.Status, &m.UnreadCount,
			&m.LastReadAt, &m.NotificationsEnabled, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("chatRepo.GetMembers scan: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetMembers rows: %w", err)
	}
	return members, nil
}

// GetActiveMemberIDs returns user ids of active members only.
func (r *ChatRepository) GetActiveMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.GetActiveMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = $1 AND status = 'active'`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetActiveMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.GetActiveMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetActiveMemberIDs rows: %w", err)
	}
	return ids, nil
}

// AddMembers inserts active member rows; a previously left or removed member
// is re-activated in place.
func (r *ChatRepository) AddMembers(ctx context.Context, chatID string, userIDs []string) error {
	defer logger.DeferLogDuration("chat.AddMembers", time.Now())()
	now := time.Now().UTC()
	for _, uid := range userIDs {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id, role, status, joined_at)
			 VALUES ($1, $2, 'member', 'active', $3)
			 ON CONFLICT (chat_id, user_id) DO UPDATE SET status = 'active'`,
			chatID, uid, now,
		); err != nil {
			return fmt.Errorf("chatRepo.AddMembers: %w", err)
		}
	}
	return nil
}

// SetMemberStatus transitions a membership row; rows are never deleted.
func (r *ChatRepository) SetMemberStatus(ctx context.Context, chatID, userID string, status model.MemberStatus) error {
	defer logger.DeferLogDuration("chat.SetMemberStatus", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_members SET status = $1 WHERE chat_id = $2 AND user_id = $3`,
		status, chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.SetMemberStatus: %w", err)
	}
	return nil
}

// IncrementUnread bumps unread_count for every active member except the
// sender in one statement. The increment happens at the store so concurrent
// sends never lose updates.
func (r *ChatRepository) IncrementUnread(ctx context.Context, chatID, senderID string) error {
	defer logger.DeferLogDuration("chat.IncrementUnread", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_members SET unread_count = unread_count + 1
		 WHERE chat_id = $1 AND user_id != $2 AND status = 'active'`,
		chatID, senderID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.IncrementUnread: %w", err)
	}
	return nil
}

// ResetUnread zeroes the member's counter and advances last_read_at.
func (r *ChatRepository) ResetUnread(ctx context.Context, chatID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("chat.ResetUnread", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_members SET unread_count = 0, last_read_at = $1
		 WHERE chat_id = $2 AND user_id = $3`,
		at, chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.ResetUnread: %w", err)
	}
	return nil
}

// ListQuery filters the chat listing.
type ListQuery struct {
	Type   model.ChatType
	Status model.ChatStatus
	Search string
	Page   int
	Limit  int
}

// List returns the user's chats ordered by last_message_at desc, then
// created_at desc. Deleted chats are excluded unless requested by status.
func (r *ChatRepository) List(ctx context.Context, orgID, userID string, q ListQuery) ([]model.Chat, int, error) {
	defer logger.DeferLogDuration("chat.List", time.Now())()

	where := `FROM chats c
		 JOIN chat_members cm ON cm.chat_id = c.id AND cm.user_id = $2 AND cm.status = 'active'
		 WHERE c.organization_id = $1`
	args := []any{orgID, userID}

	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND c.status = $%d", len(args))
	} else {
		where += ` AND c.status != 'deleted'`
	}
	if q.Type != "" {
		args = append(args, q.Type)
		where += fmt.Sprintf(" AND c.type = $%d", len(args))
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		where += fmt.Sprintf(" AND (c.name ILIKE $%d OR c.description ILIKE $%d)", len(args), len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("chatRepo.List count: %w", err)
	}

	args = append(args, q.Limit, (q.Page-1)*q.Limit)
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.organization_id, c.type, COALESCE(c.name,''), COALESCE(c.description,''), c.status,
		        c.created_by, c.last_message_at, c.last_message_id, c.created_at `+where+
			fmt.Sprintf(` ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC LIMIT $%d OFFSET $%d`,
				len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("chatRepo.List query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, q.Limit)
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Type, &c.Name, &c.Description, &c.Status,
			&c.CreatedBy, &c.LastMessageAt, &c.LastMessageID, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("chatRepo.List scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("chatRepo.List rows: %w", err)
	}
	return chats, total, nil
}
