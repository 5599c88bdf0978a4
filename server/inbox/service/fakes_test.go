package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

// In-memory stand-ins for the repository layer. They reproduce the store
// contracts the services rely on (uniqueness, conditional claims, ordering)
// without a database.

type fakeTenantStore struct {
	tenants []domain.Tenant
}

func (f *fakeTenantStore) GetByChannelID(_ context.Context, channelID string) (domain.Tenant, error) {
	for _, tenant := range f.tenants {
		if tenant.ChannelID == channelID {
			return tenant, nil
		}
	}
	return domain.Tenant{}, domain.ErrTenantNotFound
}

func (f *fakeTenantStore) GetByID(_ context.Context, tenantID string) (domain.Tenant, error) {
	for _, tenant := range f.tenants {
		if tenant.ID == tenantID {
			return tenant, nil
		}
	}
	return domain.Tenant{}, domain.ErrTenantNotFound
}

type fakeCustomerStore struct {
	mu        sync.Mutex
	customers []domain.Customer
}

func (f *fakeCustomerStore) UpsertByExternalID(_ context.Context, tenantID, externalUserID, displayName string) (domain.Customer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.customers {
		if f.customers[i].TenantID == tenantID && f.customers[i].ExternalUserID == externalUserID {
			f.customers[i].LastContactAt = time.Now()
			return f.customers[i], false, nil
		}
	}
	customer := domain.Customer{
		TenantID:       tenantID,
		ID:             fmt.Sprintf("customer-%d", len(f.customers)+1),
		ExternalUserID: externalUserID,
		DisplayName:    displayName,
		LastContactAt:  time.Now(),
		CreatedAt:      time.Now(),
	}
	f.customers = append(f.customers, customer)
	return customer, true, nil
}

func (f *fakeCustomerStore) ListByTenant(_ context.Context, tenantID string) ([]domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Customer
	for _, c := range f.customers {
		if c.TenantID == tenantID && !c.IsBlocked {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCustomerStore) ListByIDs(_ context.Context, tenantID string, customerIDs []string) ([]domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[string]struct{}{}
	for _, id := range customerIDs {
		wanted[id] = struct{}{}
	}
	var out []domain.Customer
	for _, c := range f.customers {
		if c.TenantID != tenantID {
			continue
		}
		if _, ok := wanted[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeConversationStore struct {
	mu            sync.Mutex
	conversations []domain.Conversation
	history       []domain.StatusChange
	updateErr     map[string]error
}

func (f *fakeConversationStore) FindActiveByCustomer(_ context.Context, tenantID, customerID string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.conversations {
		conv := f.conversations[i]
		if conv.TenantID != tenantID || conv.CustomerID != customerID {
			continue
		}
		if conv.Status == domain.ConversationOpen || conv.Status == domain.ConversationPending {
			copied := conv
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeConversationStore) Create(_ context.Context, tenantID, customerID string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.conversations {
		if existing.TenantID == tenantID && existing.CustomerID == customerID &&
			(existing.Status == domain.ConversationOpen || existing.Status == domain.ConversationPending) {
			return domain.Conversation{}, domain.ErrActiveConversationExists
		}
	}
	conv := domain.Conversation{
		TenantID:   tenantID,
		ID:         fmt.Sprintf("conversation-%d", len(f.conversations)+1),
		CustomerID: customerID,
		Status:     domain.ConversationOpen,
		CreatedAt:  time.Now(),
	}
	f.conversations = append(f.conversations, conv)
	return conv, nil
}

func (f *fakeConversationStore) GetByID(_ context.Context, tenantID, conversationID string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.conversations {
		if conv.TenantID == tenantID && conv.ID == conversationID {
			return conv, nil
		}
	}
	return domain.Conversation{}, fmt.Errorf("conversation not found: %s", conversationID)
}

func (f *fakeConversationStore) TouchOnInbound(_ context.Context, tenantID, conversationID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.conversations {
		if f.conversations[i].TenantID == tenantID && f.conversations[i].ID == conversationID {
			f.conversations[i].UnreadCount++
			f.conversations[i].LastMessageAt = &at
			return nil
		}
	}
	return fmt.Errorf("conversation not found: %s", conversationID)
}

func (f *fakeConversationStore) SetFirstResponseAt(_ context.Context, tenantID, conversationID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.conversations {
		if f.conversations[i].TenantID == tenantID && f.conversations[i].ID == conversationID {
			if f.conversations[i].FirstResponseAt == nil {
				f.conversations[i].FirstResponseAt = &at
			}
			return nil
		}
	}
	return fmt.Errorf("conversation not found: %s", conversationID)
}

func (f *fakeConversationStore) UpdateStatusWithHistory(_ context.Context, tenantID, conversationID string, to domain.ConversationStatus, changedBy string) (domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.updateErr[conversationID]; ok {
		return domain.Conversation{}, err
	}
	for i := range f.conversations {
		if f.conversations[i].TenantID != tenantID || f.conversations[i].ID != conversationID {
			continue
		}
		now := time.Now()
		from := f.conversations[i].Status
		f.conversations[i].Status = to
		f.conversations[i].ResolvedAt = nil
		f.conversations[i].ClosedAt = nil
		switch to {
		case domain.ConversationResolved:
			f.conversations[i].ResolvedAt = &now
		case domain.ConversationClosed:
			f.conversations[i].ClosedAt = &now
		}
		f.history = append(f.history, domain.StatusChange{
			TenantID:       tenantID,
			ID:             fmt.Sprintf("history-%d", len(f.history)+1),
			ConversationID: conversationID,
			FromStatus:     from,
			ToStatus:       to,
			ChangedBy:      changedBy,
			ChangedAt:      now,
		})
		return f.conversations[i], nil
	}
	return domain.Conversation{}, fmt.Errorf("conversation not found: %s", conversationID)
}

func (f *fakeConversationStore) ListStatusHistory(_ context.Context, tenantID, conversationID string) ([]domain.StatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.StatusChange
	for _, change := range f.history {
		if change.TenantID == tenantID && change.ConversationID == conversationID {
			out = append(out, change)
		}
	}
	return out, nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	inbound  []domain.Message
	outbound []domain.Message
	seen     map[string]struct{}
}

func (f *fakeMessageStore) InsertInbound(_ context.Context, message domain.Message) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]struct{}{}
	}
	if message.ExternalMessageID != nil {
		key := message.TenantID + ":" + *message.ExternalMessageID
		if _, ok := f.seen[key]; ok {
			return domain.Message{}, domain.ErrDuplicateMessage
		}
		f.seen[key] = struct{}{}
	}
	message.ID = fmt.Sprintf("message-%d", len(f.inbound)+len(f.outbound)+1)
	message.Direction = domain.DirectionInbound
	message.CreatedAt = time.Now()
	f.inbound = append(f.inbound, message)
	return message, nil
}

func (f *fakeMessageStore) InsertOutbound(_ context.Context, message domain.Message) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message.ID = fmt.Sprintf("message-%d", len(f.inbound)+len(f.outbound)+1)
	message.Direction = domain.DirectionOutbound
	message.CreatedAt = time.Now()
	f.outbound = append(f.outbound, message)
	return message, nil
}

type fakeMessageLister struct {
	messages []domain.Message
}

// Mirrors the store's keyset order: newest first by created_at, id as the
// tie-break, cursor resuming strictly after the cursor row.
func (f *fakeMessageLister) ListByConversation(_ context.Context, tenantID, conversationID string, limit int, cursorID *string) ([]domain.Message, error) {
	var all []domain.Message
	for _, msg := range f.messages {
		if msg.TenantID == tenantID && msg.ConversationID == conversationID {
			all = append(all, msg)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	var out []domain.Message
	skipping := cursorID != nil
	for _, msg := range all {
		if skipping {
			if msg.ID == *cursorID {
				skipping = false
			}
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeRuleStore struct {
	mu    sync.Mutex
	rules []domain.AutoReplyRule
	usage map[string]int
}

func (f *fakeRuleStore) ListEnabled(_ context.Context, tenantID string) ([]domain.AutoReplyRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AutoReplyRule
	for _, rule := range f.rules {
		if rule.TenantID == tenantID && rule.IsEnabled {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (f *fakeRuleStore) IncrementUsage(_ context.Context, _ string, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage == nil {
		f.usage = map[string]int{}
	}
	f.usage[ruleID]++
	return nil
}

type fakeBroadcastStore struct {
	mu          sync.Mutex
	broadcasts  []domain.Broadcast
	checkpoints []domain.Broadcast
	finalized   chan struct{}
}

func (f *fakeBroadcastStore) GetByID(_ context.Context, tenantID, broadcastID string) (domain.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.broadcasts {
		if b.TenantID == tenantID && b.ID == broadcastID {
			return b, nil
		}
	}
	return domain.Broadcast{}, domain.ErrBroadcastNotFound
}

func (f *fakeBroadcastStore) ClaimForSending(_ context.Context, tenantID, broadcastID string, recipientCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.broadcasts {
		if f.broadcasts[i].TenantID != tenantID || f.broadcasts[i].ID != broadcastID {
			continue
		}
		switch f.broadcasts[i].Status {
		case domain.BroadcastDraft, domain.BroadcastScheduled:
			f.broadcasts[i].Status = domain.BroadcastSending
			f.broadcasts[i].RecipientCount = recipientCount
			return nil
		default:
			return domain.ErrBroadcastAlreadyRunning
		}
	}
	return domain.ErrBroadcastNotFound
}

func (f *fakeBroadcastStore) UpdateProgress(_ context.Context, tenantID, broadcastID string, sentCount, failedCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.broadcasts {
		if f.broadcasts[i].TenantID == tenantID && f.broadcasts[i].ID == broadcastID {
			f.broadcasts[i].SentCount = sentCount
			f.broadcasts[i].FailedCount = failedCount
			f.checkpoints = append(f.checkpoints, f.broadcasts[i])
			return nil
		}
	}
	return domain.ErrBroadcastNotFound
}

func (f *fakeBroadcastStore) Finalize(_ context.Context, tenantID, broadcastID string, status domain.BroadcastStatus, sentCount, failedCount int, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.broadcasts {
		if f.broadcasts[i].TenantID == tenantID && f.broadcasts[i].ID == broadcastID {
			f.broadcasts[i].Status = status
			f.broadcasts[i].SentCount = sentCount
			f.broadcasts[i].FailedCount = failedCount
			f.broadcasts[i].SentAt = &sentAt
			if f.finalized != nil {
				close(f.finalized)
				f.finalized = nil
			}
			return nil
		}
	}
	return domain.ErrBroadcastNotFound
}

func (f *fakeBroadcastStore) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Broadcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Broadcast
	for _, b := range f.broadcasts {
		if b.Status != domain.BroadcastScheduled || b.ScheduledAt == nil || b.ScheduledAt.After(now) {
			continue
		}
		out = append(out, b)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBroadcastStore) get(broadcastID string) domain.Broadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.broadcasts {
		if b.ID == broadcastID {
			return b
		}
	}
	return domain.Broadcast{}
}

type fakeSegmentResolver struct {
	members map[string][]domain.Customer
}

func (f *fakeSegmentResolver) ResolveSegmentMembers(_ context.Context, _ string, segmentIDs []string) ([]domain.Customer, error) {
	var out []domain.Customer
	for _, segmentID := range segmentIDs {
		out = append(out, f.members[segmentID]...)
	}
	return out, nil
}

type pushCall struct {
	accessToken string
	to          string
	text        string
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []pushCall
	failFor map[string]error
}

func (f *fakeSender) Push(_ context.Context, accessToken, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{accessToken: accessToken, to: to, text: text})
	if err, ok := f.failFor[to]; ok {
		return err
	}
	return nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type publishedEvent struct {
	tenantID string
	event    string
	payload  any
}

type recordingRealtime struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *recordingRealtime) Publish(tenantID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{tenantID: tenantID, event: event, payload: payload})
}

func (r *recordingRealtime) countOf(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.events {
		if e.event == event {
			count++
		}
	}
	return count
}
