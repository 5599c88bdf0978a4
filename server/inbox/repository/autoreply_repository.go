package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type AutoReplyRepository struct {
	pool *pgxpool.Pool
}

func NewAutoReplyRepository(pool *pgxpool.Pool) *AutoReplyRepository {
	return &AutoReplyRepository{pool: pool}
}

// ListEnabled returns the tenant's enabled rules in match precedence order:
// highest priority first, ties broken by most recent update.
func (r *AutoReplyRepository) ListEnabled(ctx context.Context, tenantID string) ([]domain.AutoReplyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rule_id, trigger_type, trigger_value, response_content, is_enabled, priority, usage_count, updated_at
		FROM auto_reply_rules
		WHERE tenant_id=$1 AND is_enabled
		ORDER BY priority DESC, updated_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.AutoReplyRule, 0)
	for rows.Next() {
		rule := domain.AutoReplyRule{TenantID: tenantID}
		if err := rows.Scan(&rule.ID, &rule.TriggerType, &rule.TriggerValue, &rule.ResponseContent, &rule.IsEnabled, &rule.Priority, &rule.UsageCount, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, rule)
	}
	return items, rows.Err()
}

// IncrementUsage bumps the monotonic match counter in SQL so concurrent
// matches never lose an increment.
func (r *AutoReplyRepository) IncrementUsage(ctx context.Context, tenantID, ruleID string) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE auto_reply_rules
		SET usage_count=usage_count+1
		WHERE tenant_id=$1 AND rule_id=$2
	`, tenantID, ruleID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("auto-reply rule not found")
	}
	return nil
}
