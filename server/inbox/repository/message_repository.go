package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// InsertInbound persists a provider-originated message. The unique index on
// (tenant_id, external_message_id) is the idempotency barrier for webhook
// retries: a duplicate delivery surfaces as ErrDuplicateMessage with no row
// written, closing the race that an application-level existence check would
// leave open.
func (r *MessageRepository) InsertInbound(ctx context.Context, message domain.Message) (domain.Message, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages(tenant_id, conversation_id, direction, message_type, content, external_message_id)
		VALUES($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, external_message_id) WHERE external_message_id IS NOT NULL DO NOTHING
		RETURNING message_id, created_at
	`, message.TenantID, message.ConversationID, string(domain.DirectionInbound),
		message.MessageType, message.Content, message.ExternalMessageID,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, domain.ErrDuplicateMessage
		}
		return domain.Message{}, err
	}
	message.Direction = domain.DirectionInbound
	return message, nil
}

func (r *MessageRepository) InsertOutbound(ctx context.Context, message domain.Message) (domain.Message, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages(tenant_id, conversation_id, direction, message_type, content, auto_reply_rule_id)
		VALUES($1, $2, $3, $4, $5, $6)
		RETURNING message_id, created_at
	`, message.TenantID, message.ConversationID, string(domain.DirectionOutbound),
		message.MessageType, message.Content, message.AutoReplyRuleID,
	).Scan(&message.ID, &message.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	message.Direction = domain.DirectionOutbound
	return message, nil
}

// ListByConversation pages newest-first. Message ids are random UUIDs, so the
// keyset orders on (created_at, message_id): the timestamp carries the
// chronology and the id only breaks ties.
func (r *MessageRepository) ListByConversation(ctx context.Context, tenantID, conversationID string, limit int, cursorID *string) ([]domain.Message, error) {
	base := `
		SELECT message_id, conversation_id, direction, message_type, content, external_message_id, auto_reply_rule_id, created_at
		FROM messages
		WHERE tenant_id=$1 AND conversation_id=$2`
	args := []any{tenantID, conversationID}

	if cursorID != nil {
		base += ` AND (created_at, message_id) < (
			SELECT created_at, message_id FROM messages WHERE tenant_id=$1 AND message_id=$3
		)`
		args = append(args, *cursorID)
		base += ` ORDER BY created_at DESC, message_id DESC LIMIT $4`
		args = append(args, limit)
	} else {
		base += ` ORDER BY created_at DESC, message_id DESC LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		m := domain.Message{TenantID: tenantID}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.MessageType, &m.Content, &m.ExternalMessageID, &m.AutoReplyRuleID, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
