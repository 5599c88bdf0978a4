package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type BroadcastRepository struct {
	pool *pgxpool.Pool
}

func NewBroadcastRepository(pool *pgxpool.Pool) *BroadcastRepository {
	return &BroadcastRepository{pool: pool}
}

const broadcastColumns = `broadcast_id, tenant_id, content, target_type, target_ids,
		status, recipient_count, sent_count, failed_count, scheduled_at, sent_at, created_at`

func scanBroadcast(row pgx.Row) (domain.Broadcast, error) {
	var b domain.Broadcast
	err := row.Scan(
		&b.ID, &b.TenantID, &b.Content, &b.TargetType, &b.TargetIDs,
		&b.Status, &b.RecipientCount, &b.SentCount, &b.FailedCount, &b.ScheduledAt, &b.SentAt, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Broadcast{}, domain.ErrBroadcastNotFound
		}
		return domain.Broadcast{}, err
	}
	return b, nil
}

func (r *BroadcastRepository) GetByID(ctx context.Context, tenantID, broadcastID string) (domain.Broadcast, error) {
	return scanBroadcast(r.pool.QueryRow(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE tenant_id=$1 AND broadcast_id=$2
	`, tenantID, broadcastID))
}

// ClaimForSending is the single-run guard: the conditional update only
// succeeds for a broadcast still in draft or scheduled, so a manual trigger
// racing a scheduler tick claims the row exactly once.
func (r *BroadcastRepository) ClaimForSending(ctx context.Context, tenantID, broadcastID string, recipientCount int) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE broadcasts
		SET status=$3, recipient_count=$4
		WHERE tenant_id=$1 AND broadcast_id=$2 AND status = ANY($5)
	`, tenantID, broadcastID, string(domain.BroadcastSending), recipientCount,
		[]string{string(domain.BroadcastDraft), string(domain.BroadcastScheduled)})
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, tenantID, broadcastID); err != nil {
			return err
		}
		return domain.ErrBroadcastAlreadyRunning
	}
	return nil
}

func (r *BroadcastRepository) UpdateProgress(ctx context.Context, tenantID, broadcastID string, sentCount, failedCount int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE broadcasts
		SET sent_count=$3, failed_count=$4
		WHERE tenant_id=$1 AND broadcast_id=$2
	`, tenantID, broadcastID, sentCount, failedCount)
	return err
}

func (r *BroadcastRepository) Finalize(ctx context.Context, tenantID, broadcastID string, status domain.BroadcastStatus, sentCount, failedCount int, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE broadcasts
		SET status=$3, sent_count=$4, failed_count=$5, sent_at=$6
		WHERE tenant_id=$1 AND broadcast_id=$2
	`, tenantID, broadcastID, string(status), sentCount, failedCount, sentAt)
	return err
}

// ListDueScheduled returns scheduled broadcasts whose due time has passed.
// The schedule is durable state, not an in-process timer: a restart picks up
// anything that came due while the process was down.
func (r *BroadcastRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Broadcast, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, string(domain.BroadcastScheduled), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Broadcast, 0)
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
