package service

import (
	"context"
	"errors"
	"time"

	commonlog "github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/log"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type BroadcastStore interface {
	GetByID(ctx context.Context, tenantID, broadcastID string) (domain.Broadcast, error)
	ClaimForSending(ctx context.Context, tenantID, broadcastID string, recipientCount int) error
	UpdateProgress(ctx context.Context, tenantID, broadcastID string, sentCount, failedCount int) error
	Finalize(ctx context.Context, tenantID, broadcastID string, status domain.BroadcastStatus, sentCount, failedCount int, sentAt time.Time) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Broadcast, error)
}

// SegmentResolver is owned by the segmentation feature; membership is
// consistent at call time.
type SegmentResolver interface {
	ResolveSegmentMembers(ctx context.Context, tenantID string, segmentIDs []string) ([]domain.Customer, error)
}

type BroadcastConfig struct {
	RatePerSecond   float64
	CheckpointEvery int
	SendTimeout     time.Duration
	SweepInterval   time.Duration
}

func (c BroadcastConfig) withDefaults() BroadcastConfig {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 25
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

type BroadcastProgress struct {
	BroadcastID    string                 `json:"broadcast_id"`
	Status         domain.BroadcastStatus `json:"status"`
	RecipientCount int                    `json:"recipient_count"`
	SentCount      int                    `json:"sent_count"`
	FailedCount    int                    `json:"failed_count"`
}

// BroadcastService resolves a broadcast's recipients and delivers one push
// per recipient at a bounded pace, checkpointing progress as it goes. The
// delivery loop holds no locks and runs detached from the triggering request.
type BroadcastService struct {
	broadcasts BroadcastStore
	customers  CustomerStore
	tenants    TenantStore
	segments   SegmentResolver
	sender     Sender
	realtime   RealtimePublisher
	events     EventPublisher
	cfg        BroadcastConfig
}

func NewBroadcastService(
	broadcasts BroadcastStore,
	customers CustomerStore,
	tenants TenantStore,
	segments SegmentResolver,
	sender Sender,
	realtime RealtimePublisher,
	events EventPublisher,
	cfg BroadcastConfig,
) *BroadcastService {
	return &BroadcastService{
		broadcasts: broadcasts,
		customers:  customers,
		tenants:    tenants,
		segments:   segments,
		sender:     sender,
		realtime:   realtime,
		events:     events,
		cfg:        cfg.withDefaults(),
	}
}

// Start claims the broadcast and runs delivery detached: the triggering HTTP
// request returns immediately and progress flows through persisted state and
// the realtime fan-out. The claim rejects a broadcast already in flight.
func (s *BroadcastService) Start(ctx context.Context, tenantID, broadcastID, actorID string) error {
	tenant, b, recipients, err := s.claim(ctx, tenantID, broadcastID)
	if err != nil {
		return err
	}
	commonlog.Infof("event=broadcast_delivery action=start tenant_id=%s broadcast_id=%s recipient_count=%d actor_id=%s", tenantID, broadcastID, len(recipients), actorID)
	go s.deliver(context.Background(), tenant, b, recipients)
	return nil
}

// Run is Start without the detach: claim, deliver, finalize synchronously.
// The scheduler sweep uses it so one sweep goroutine bounds concurrency.
func (s *BroadcastService) Run(ctx context.Context, tenantID, broadcastID, actorID string) error {
	tenant, b, recipients, err := s.claim(ctx, tenantID, broadcastID)
	if err != nil {
		return err
	}
	commonlog.Infof("event=broadcast_delivery action=start tenant_id=%s broadcast_id=%s recipient_count=%d actor_id=%s", tenantID, broadcastID, len(recipients), actorID)
	s.deliver(ctx, tenant, b, recipients)
	return nil
}

func (s *BroadcastService) claim(ctx context.Context, tenantID, broadcastID string) (domain.Tenant, domain.Broadcast, []domain.Customer, error) {
	b, err := s.broadcasts.GetByID(ctx, tenantID, broadcastID)
	if err != nil {
		return domain.Tenant{}, domain.Broadcast{}, nil, err
	}
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return domain.Tenant{}, domain.Broadcast{}, nil, err
	}
	recipients, err := s.resolveRecipients(ctx, b)
	if err != nil {
		return domain.Tenant{}, domain.Broadcast{}, nil, err
	}
	if err := s.broadcasts.ClaimForSending(ctx, tenantID, broadcastID, len(recipients)); err != nil {
		return domain.Tenant{}, domain.Broadcast{}, nil, err
	}
	b.Status = domain.BroadcastSending
	b.RecipientCount = len(recipients)
	return tenant, b, recipients, nil
}

// resolveRecipients expands the target criteria and de-duplicates by external
// user id: a customer reachable through overlapping criteria is sent exactly
// one message.
func (s *BroadcastService) resolveRecipients(ctx context.Context, b domain.Broadcast) ([]domain.Customer, error) {
	var (
		customers []domain.Customer
		err       error
	)
	switch b.TargetType {
	case domain.TargetAll:
		customers, err = s.customers.ListByTenant(ctx, b.TenantID)
	case domain.TargetCustom:
		customers, err = s.customers.ListByIDs(ctx, b.TenantID, b.TargetIDs)
	case domain.TargetSegment:
		customers, err = s.segments.ResolveSegmentMembers(ctx, b.TenantID, b.TargetIDs)
	default:
		return nil, errors.New("unknown broadcast target type: " + string(b.TargetType))
	}
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	recipients := make([]domain.Customer, 0, len(customers))
	for _, c := range customers {
		if c.IsBlocked {
			continue
		}
		if _, ok := seen[c.ExternalUserID]; ok {
			continue
		}
		seen[c.ExternalUserID] = struct{}{}
		recipients = append(recipients, c)
	}
	return recipients, nil
}

func (s *BroadcastService) deliver(ctx context.Context, tenant domain.Tenant, b domain.Broadcast, recipients []domain.Customer) {
	interval := time.Duration(float64(time.Second) / s.cfg.RatePerSecond)
	sent, failed := 0, 0

	for i, recipient := range recipients {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := s.sender.Push(callCtx, tenant.ChannelAccessToken, recipient.ExternalUserID, b.Content)
		cancel()
		if err != nil {
			// Single attempt per recipient; the failure is recorded, not retried.
			failed++
			commonlog.Warnf("event=broadcast_delivery action=send status=failed tenant_id=%s broadcast_id=%s customer_id=%s error=%v", tenant.ID, b.ID, recipient.ID, err)
		} else {
			sent++
		}

		if (i+1)%s.cfg.CheckpointEvery == 0 {
			s.checkpoint(ctx, tenant.ID, b, sent, failed)
		}
		if i < len(recipients)-1 {
			time.Sleep(interval)
		}
	}

	// Sent even with partial failures; failed only when every send failed
	// and there was at least one recipient.
	status := domain.BroadcastSent
	if len(recipients) > 0 && sent == 0 {
		status = domain.BroadcastFailed
	}
	sentAt := time.Now()
	if err := s.broadcasts.Finalize(ctx, tenant.ID, b.ID, status, sent, failed, sentAt); err != nil {
		commonlog.Errorf("event=broadcast_delivery action=finalize status=failed tenant_id=%s broadcast_id=%s error=%v", tenant.ID, b.ID, err)
		return
	}
	progress := BroadcastProgress{BroadcastID: b.ID, Status: status, RecipientCount: b.RecipientCount, SentCount: sent, FailedCount: failed}
	s.realtime.Publish(tenant.ID, "broadcast-progress", progress)
	s.publishEvent(ctx, tenant.ID, "broadcast.finished", progress)
	commonlog.Infof("event=broadcast_delivery action=finalize status=%s tenant_id=%s broadcast_id=%s sent_count=%d failed_count=%d", status, tenant.ID, b.ID, sent, failed)
}

func (s *BroadcastService) checkpoint(ctx context.Context, tenantID string, b domain.Broadcast, sent, failed int) {
	if err := s.broadcasts.UpdateProgress(ctx, tenantID, b.ID, sent, failed); err != nil {
		commonlog.Warnf("event=broadcast_delivery action=checkpoint status=failed tenant_id=%s broadcast_id=%s error=%v", tenantID, b.ID, err)
		return
	}
	progress := BroadcastProgress{BroadcastID: b.ID, Status: domain.BroadcastSending, RecipientCount: b.RecipientCount, SentCount: sent, FailedCount: failed}
	s.realtime.Publish(tenantID, "broadcast-progress", progress)
	s.publishEvent(ctx, tenantID, "broadcast.progress", progress)
}

// RunScheduler polls for due scheduled broadcasts until ctx is cancelled. The
// due-at field is durable state, so broadcasts scheduled before a restart are
// picked up by the first sweep; the conditional claim makes a duplicate tick
// (or a second instance) a harmless no-op.
func (s *BroadcastService) RunScheduler(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

const sweepBatchLimit = 50

func (s *BroadcastService) sweep(ctx context.Context) {
	due, err := s.broadcasts.ListDueScheduled(ctx, time.Now(), sweepBatchLimit)
	if err != nil {
		commonlog.Errorf("event=broadcast_scheduler action=sweep status=failed error=%v", err)
		return
	}
	for _, b := range due {
		if err := s.Run(ctx, b.TenantID, b.ID, "scheduler"); err != nil {
			if errors.Is(err, domain.ErrBroadcastAlreadyRunning) {
				continue
			}
			commonlog.Errorf("event=broadcast_scheduler action=dispatch status=failed tenant_id=%s broadcast_id=%s error=%v", b.TenantID, b.ID, err)
		}
	}
}

func (s *BroadcastService) publishEvent(ctx context.Context, tenantID, key string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, tenantID, key, payload); err != nil {
		commonlog.Warnf("event=domain_events action=publish status=failed tenant_id=%s kind=%s error=%v", tenantID, key, err)
	}
}
