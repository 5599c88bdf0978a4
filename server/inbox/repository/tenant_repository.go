package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type TenantRepository struct {
	pool *pgxpool.Pool
}

func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

const tenantColumns = `tenant_id, name, channel_id, channel_secret, channel_access_token,
		first_response_sla_secs, resolution_sla_secs, is_active, created_at, updated_at`

func (r *TenantRepository) GetByChannelID(ctx context.Context, channelID string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE channel_id=$1
	`, channelID).Scan(
		&t.ID, &t.Name, &t.ChannelID, &t.ChannelSecret, &t.ChannelAccessToken,
		&t.FirstResponseSLASecs, &t.ResolutionSLASecs, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, domain.ErrTenantNotFound
		}
		return domain.Tenant{}, err
	}
	return t, nil
}

func (r *TenantRepository) GetByID(ctx context.Context, tenantID string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE tenant_id=$1
	`, tenantID).Scan(
		&t.ID, &t.Name, &t.ChannelID, &t.ChannelSecret, &t.ChannelAccessToken,
		&t.FirstResponseSLASecs, &t.ResolutionSLASecs, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, domain.ErrTenantNotFound
		}
		return domain.Tenant{}, err
	}
	return t, nil
}

func (r *TenantRepository) RotateSecret(ctx context.Context, tenantID, newSecret string) error {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE tenants
		SET channel_secret=$2, updated_at=NOW()
		WHERE tenant_id=$1
	`, tenantID, newSecret)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}
