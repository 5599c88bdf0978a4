package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type CustomerRepository struct {
	pool *pgxpool.Pool
}

func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// UpsertByExternalID creates the customer on first contact or refreshes
// last_contact_at on a repeat one. The returned flag reports whether the row
// was created by this call.
func (r *CustomerRepository) UpsertByExternalID(ctx context.Context, tenantID, externalUserID, displayName string) (domain.Customer, bool, error) {
	c := domain.Customer{TenantID: tenantID, ExternalUserID: externalUserID}
	var created bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO customers(tenant_id, external_user_id, display_name, last_contact_at)
		VALUES($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, external_user_id)
		DO UPDATE SET last_contact_at=NOW()
		RETURNING customer_id, display_name, is_blocked, last_contact_at, created_at, (xmax = 0)
	`, tenantID, externalUserID, displayName).Scan(
		&c.ID, &c.DisplayName, &c.IsBlocked, &c.LastContactAt, &c.CreatedAt, &created,
	)
	if err != nil {
		return domain.Customer{}, false, err
	}
	return c, created, nil
}

// ListByTenant returns every reachable customer of the tenant. Blocked
// customers are excluded: they must never receive broadcasts.
func (r *CustomerRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT customer_id, external_user_id, display_name, is_blocked, last_contact_at, created_at
		FROM customers
		WHERE tenant_id=$1 AND NOT is_blocked
		ORDER BY customer_id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(tenantID, rows)
}

func (r *CustomerRepository) ListByIDs(ctx context.Context, tenantID string, customerIDs []string) ([]domain.Customer, error) {
	if len(customerIDs) == 0 {
		return []domain.Customer{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT customer_id, external_user_id, display_name, is_blocked, last_contact_at, created_at
		FROM customers
		WHERE tenant_id=$1 AND customer_id = ANY($2) AND NOT is_blocked
		ORDER BY customer_id
	`, tenantID, customerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(tenantID, rows)
}

func scanCustomers(tenantID string, rows pgx.Rows) ([]domain.Customer, error) {
	items := make([]domain.Customer, 0)
	for rows.Next() {
		c := domain.Customer{TenantID: tenantID}
		if err := rows.Scan(&c.ID, &c.ExternalUserID, &c.DisplayName, &c.IsBlocked, &c.LastContactAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
