package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

const conversationColumns = `conversation_id, customer_id, status, unread_count,
		last_message_at, first_response_at, resolved_at, closed_at, created_at`

// FindActiveByCustomer returns the most recently active open or pending
// conversation for the customer, or nil when none exists.
func (r *ConversationRepository) FindActiveByCustomer(ctx context.Context, tenantID, customerID string) (*domain.Conversation, error) {
	conv := domain.Conversation{TenantID: tenantID}
	err := r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id=$1 AND customer_id=$2 AND status = ANY($3)
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
		LIMIT 1
	`, tenantID, customerID, statusStrings(domain.ActiveConversationStatuses)).Scan(
		&conv.ID, &conv.CustomerID, &conv.Status, &conv.UnreadCount,
		&conv.LastMessageAt, &conv.FirstResponseAt, &conv.ResolvedAt, &conv.ClosedAt, &conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

// Create opens a conversation. The partial unique index on active
// conversations arbitrates concurrent first contacts: the loser gets
// ErrActiveConversationExists with no row written and re-reads the winner's.
func (r *ConversationRepository) Create(ctx context.Context, tenantID, customerID string) (domain.Conversation, error) {
	conv := domain.Conversation{
		TenantID:   tenantID,
		CustomerID: customerID,
		Status:     domain.ConversationOpen,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversations(tenant_id, customer_id, status)
		VALUES($1, $2, $3)
		ON CONFLICT (tenant_id, customer_id) WHERE status IN ('open', 'pending') DO NOTHING
		RETURNING conversation_id, created_at
	`, tenantID, customerID, string(domain.ConversationOpen)).Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, domain.ErrActiveConversationExists
		}
		return domain.Conversation{}, err
	}
	return conv, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, tenantID, conversationID string) (domain.Conversation, error) {
	conv := domain.Conversation{TenantID: tenantID}
	err := r.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id=$1 AND conversation_id=$2
	`, tenantID, conversationID).Scan(
		&conv.ID, &conv.CustomerID, &conv.Status, &conv.UnreadCount,
		&conv.LastMessageAt, &conv.FirstResponseAt, &conv.ResolvedAt, &conv.ClosedAt, &conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, fmt.Errorf("conversation not found")
		}
		return domain.Conversation{}, err
	}
	return conv, nil
}

// TouchOnInbound records inbound activity: bumps last_message_at and the
// unread counter.
func (r *ConversationRepository) TouchOnInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_at=$3, unread_count=unread_count+1
		WHERE tenant_id=$1 AND conversation_id=$2
	`, tenantID, conversationID, at)
	return err
}

// SetFirstResponseAt stamps the first outbound response time. Set once; later
// calls are no-ops.
func (r *ConversationRepository) SetFirstResponseAt(ctx context.Context, tenantID, conversationID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE conversations
		SET first_response_at=$3, last_message_at=$3
		WHERE tenant_id=$1 AND conversation_id=$2 AND first_response_at IS NULL
	`, tenantID, conversationID, at)
	return err
}

// UpdateStatusWithHistory changes the conversation status and appends the
// audit record in one transaction, so neither can exist without the other.
// resolved_at/closed_at are stamped on entering their status and cleared on
// leaving it.
func (r *ConversationRepository) UpdateStatusWithHistory(ctx context.Context, tenantID, conversationID string, to domain.ConversationStatus, changedBy string) (domain.Conversation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer tx.Rollback(ctx)

	conv := domain.Conversation{TenantID: tenantID, ID: conversationID}
	var from domain.ConversationStatus
	err = tx.QueryRow(ctx, `
		SELECT status FROM conversations
		WHERE tenant_id=$1 AND conversation_id=$2
		FOR UPDATE
	`, tenantID, conversationID).Scan(&from)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, fmt.Errorf("conversation not found")
		}
		return domain.Conversation{}, err
	}

	err = tx.QueryRow(ctx, `
		UPDATE conversations
		SET status=$3,
		    resolved_at=CASE WHEN $3='resolved' THEN NOW() ELSE NULL END,
		    closed_at=CASE WHEN $3='closed' THEN NOW() ELSE NULL END
		WHERE tenant_id=$1 AND conversation_id=$2
		RETURNING customer_id, unread_count, last_message_at, first_response_at, resolved_at, closed_at, created_at
	`, tenantID, conversationID, string(to)).Scan(
		&conv.CustomerID, &conv.UnreadCount, &conv.LastMessageAt, &conv.FirstResponseAt,
		&conv.ResolvedAt, &conv.ClosedAt, &conv.CreatedAt,
	)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv.Status = to

	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_status_history(tenant_id, conversation_id, from_status, to_status, changed_by)
		VALUES($1, $2, $3, $4, $5)
	`, tenantID, conversationID, string(from), string(to), changedBy); err != nil {
		return domain.Conversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func (r *ConversationRepository) ListStatusHistory(ctx context.Context, tenantID, conversationID string) ([]domain.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT history_id, from_status, to_status, changed_by, changed_at
		FROM conversation_status_history
		WHERE tenant_id=$1 AND conversation_id=$2
		ORDER BY changed_at ASC, history_id ASC
	`, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StatusChange, 0)
	for rows.Next() {
		item := domain.StatusChange{TenantID: tenantID, ConversationID: conversationID}
		if err := rows.Scan(&item.ID, &item.FromStatus, &item.ToStatus, &item.ChangedBy, &item.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func statusStrings(statuses []domain.ConversationStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
