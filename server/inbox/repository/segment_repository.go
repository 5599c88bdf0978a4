package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

// SegmentRepository reads segment membership maintained by the segmentation
// feature. Membership is taken as-is at call time; recomputation happens
// elsewhere.
type SegmentRepository struct {
	pool *pgxpool.Pool
}

func NewSegmentRepository(pool *pgxpool.Pool) *SegmentRepository {
	return &SegmentRepository{pool: pool}
}

// ResolveSegmentMembers returns the union of reachable customers across the
// given segments.
func (r *SegmentRepository) ResolveSegmentMembers(ctx context.Context, tenantID string, segmentIDs []string) ([]domain.Customer, error) {
	if len(segmentIDs) == 0 {
		return []domain.Customer{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT c.customer_id, c.external_user_id, c.display_name, c.is_blocked, c.last_contact_at, c.created_at
		FROM segment_members sm
		JOIN customers c ON c.tenant_id = sm.tenant_id AND c.customer_id = sm.customer_id
		WHERE sm.tenant_id=$1 AND sm.segment_id = ANY($2) AND NOT c.is_blocked
		ORDER BY c.customer_id
	`, tenantID, segmentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(tenantID, rows)
}
