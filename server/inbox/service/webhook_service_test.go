package service

import (
	"context"
	"errors"
	"testing"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/signature"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type webhookFixture struct {
	svc           *WebhookService
	tenants       *fakeTenantStore
	customers     *fakeCustomerStore
	conversations *fakeConversationStore
	messages      *fakeMessageStore
	rules         *fakeRuleStore
	sender        *fakeSender
	realtime      *recordingRealtime
}

func newWebhookFixture(rules []domain.AutoReplyRule) *webhookFixture {
	f := &webhookFixture{
		tenants: &fakeTenantStore{tenants: []domain.Tenant{{
			ID:                 "t1",
			ChannelID:          "channel-1",
			ChannelSecret:      "secret-1",
			ChannelAccessToken: "token-1",
			IsActive:           true,
		}}},
		customers:     &fakeCustomerStore{},
		conversations: &fakeConversationStore{},
		messages:      &fakeMessageStore{},
		rules:         &fakeRuleStore{rules: rules},
		sender:        &fakeSender{},
		realtime:      &recordingRealtime{},
	}
	matcher := NewAutoReplyService(f.rules)
	f.svc = NewWebhookService(f.tenants, f.customers, f.conversations, f.messages, f.rules, matcher, f.sender, f.realtime, nil)
	return f
}

func textEvent(userID, messageID, text string) WebhookEvent {
	return WebhookEvent{
		Type:    "message",
		Source:  WebhookSource{Type: "user", UserID: userID},
		Message: WebhookMessage{ID: messageID, Type: "text", Text: text},
	}
}

func TestProcessEventsCreatesCustomerConversationAndReply(t *testing.T) {
	f := newWebhookFixture([]domain.AutoReplyRule{
		{TenantID: "t1", ID: "rule-1", TriggerType: domain.TriggerContains, TriggerValue: "hours", ResponseContent: "We are open 9-5.", IsEnabled: true, Priority: 1},
	})
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m1", "what are your hours?")})

	if len(f.customers.customers) != 1 {
		t.Fatalf("customers = %d, want 1", len(f.customers.customers))
	}
	if got := f.customers.customers[0].DisplayName; got != "U100" {
		t.Fatalf("placeholder display name = %q, want external id", got)
	}
	if len(f.conversations.conversations) != 1 {
		t.Fatalf("conversations = %d, want 1", len(f.conversations.conversations))
	}
	conv := f.conversations.conversations[0]
	if conv.UnreadCount != 1 {
		t.Fatalf("unread count = %d, want 1", conv.UnreadCount)
	}
	if conv.FirstResponseAt == nil {
		t.Fatal("first response timestamp not set after auto-reply")
	}
	if len(f.messages.inbound) != 1 || len(f.messages.outbound) != 1 {
		t.Fatalf("messages inbound/outbound = %d/%d, want 1/1", len(f.messages.inbound), len(f.messages.outbound))
	}
	out := f.messages.outbound[0]
	if out.AutoReplyRuleID == nil || *out.AutoReplyRuleID != "rule-1" {
		t.Fatalf("outbound rule back-reference = %v, want rule-1", out.AutoReplyRuleID)
	}
	if f.sender.callCount() != 1 {
		t.Fatalf("push calls = %d, want 1", f.sender.callCount())
	}
	call := f.sender.calls[0]
	if call.accessToken != "token-1" || call.to != "U100" || call.text != "We are open 9-5." {
		t.Fatalf("push call = %+v", call)
	}
	if f.rules.usage["rule-1"] != 1 {
		t.Fatalf("usage count = %d, want 1", f.rules.usage["rule-1"])
	}
	if got := f.realtime.countOf("new-message"); got != 2 {
		t.Fatalf("new-message events = %d, want 2", got)
	}
}

func TestProcessEventsDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newWebhookFixture([]domain.AutoReplyRule{
		{TenantID: "t1", ID: "rule-1", TriggerType: domain.TriggerContains, TriggerValue: "hi", ResponseContent: "hello", IsEnabled: true, Priority: 1},
	})
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")
	event := textEvent("U100", "m1", "hi")

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{event})
	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{event})

	if len(f.messages.inbound) != 1 {
		t.Fatalf("inbound messages = %d, want 1", len(f.messages.inbound))
	}
	if len(f.messages.outbound) != 1 {
		t.Fatalf("outbound messages = %d, want 1 (redelivery must not re-reply)", len(f.messages.outbound))
	}
	if f.sender.callCount() != 1 {
		t.Fatalf("push calls = %d, want 1", f.sender.callCount())
	}
	if got := f.conversations.conversations[0].UnreadCount; got != 1 {
		t.Fatalf("unread count = %d, want 1", got)
	}
}

func TestProcessEventsReusesActiveConversation(t *testing.T) {
	f := newWebhookFixture(nil)
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m1", "first")})
	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m2", "second")})

	if len(f.conversations.conversations) != 1 {
		t.Fatalf("conversations = %d, want 1 (active conversation is reused)", len(f.conversations.conversations))
	}
	if got := f.conversations.conversations[0].UnreadCount; got != 2 {
		t.Fatalf("unread count = %d, want 2", got)
	}
}

func TestProcessEventsOpensNewConversationAfterResolution(t *testing.T) {
	f := newWebhookFixture(nil)
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m1", "first")})
	convID := f.conversations.conversations[0].ID
	if _, err := f.conversations.UpdateStatusWithHistory(context.Background(), "t1", convID, domain.ConversationResolved, "agent-1"); err != nil {
		t.Fatalf("resolve conversation: %v", err)
	}

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m2", "second")})

	if len(f.conversations.conversations) != 2 {
		t.Fatalf("conversations = %d, want 2 (resolved conversation is not reused)", len(f.conversations.conversations))
	}
}

// staleConversationStore serves a configurable number of stale nil reads
// before delegating, reproducing the interleaving where two deliveries for a
// brand-new customer both observe no active conversation.
type staleConversationStore struct {
	*fakeConversationStore
	staleReads int
}

func (s *staleConversationStore) FindActiveByCustomer(ctx context.Context, tenantID, customerID string) (*domain.Conversation, error) {
	if s.staleReads > 0 {
		s.staleReads--
		return nil, nil
	}
	return s.fakeConversationStore.FindActiveByCustomer(ctx, tenantID, customerID)
}

func TestProcessEventsConcurrentFirstContactSharesOneConversation(t *testing.T) {
	f := newWebhookFixture(nil)
	stale := &staleConversationStore{fakeConversationStore: f.conversations}
	f.svc = NewWebhookService(f.tenants, f.customers, stale, f.messages, f.rules, NewAutoReplyService(f.rules), f.sender, f.realtime, nil)
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m1", "first")})

	// The racing delivery misses the winner's row, loses the create, and must
	// land its message in the winner's conversation rather than a second one.
	stale.staleReads = 1
	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m2", "second")})

	if len(f.conversations.conversations) != 1 {
		t.Fatalf("conversations = %d, want 1 (create race must not open a second active conversation)", len(f.conversations.conversations))
	}
	if len(f.messages.inbound) != 2 {
		t.Fatalf("inbound messages = %d, want 2", len(f.messages.inbound))
	}
	convID := f.conversations.conversations[0].ID
	for _, msg := range f.messages.inbound {
		if msg.ConversationID != convID {
			t.Fatalf("message %s landed in conversation %s, want %s", msg.ID, msg.ConversationID, convID)
		}
	}
	if got := f.conversations.conversations[0].UnreadCount; got != 2 {
		t.Fatalf("unread count = %d, want 2", got)
	}
}

func TestProcessEventsSkipsIrrelevantAndMalformedEvents(t *testing.T) {
	f := newWebhookFixture(nil)
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")

	events := []WebhookEvent{
		{Type: "follow", Source: WebhookSource{Type: "user", UserID: "U100"}},
		{Type: "message", Source: WebhookSource{Type: "group", UserID: "U100"}, Message: WebhookMessage{ID: "m1", Type: "text", Text: "hi"}},
		{Type: "message", Source: WebhookSource{Type: "user"}, Message: WebhookMessage{ID: "m2", Type: "text", Text: "hi"}},
		{Type: "message", Source: WebhookSource{Type: "user", UserID: "U100"}, Message: WebhookMessage{Type: "text", Text: "no id"}},
		textEvent("U200", "m3", "valid"),
	}
	f.svc.ProcessEvents(context.Background(), tenant, events)

	if len(f.messages.inbound) != 1 {
		t.Fatalf("inbound messages = %d, want 1 (only the valid event persists)", len(f.messages.inbound))
	}
	if len(f.customers.customers) != 1 || f.customers.customers[0].ExternalUserID != "U200" {
		t.Fatalf("customers = %+v, want only U200", f.customers.customers)
	}
}

func TestProcessEventsSendFailureKeepsInboundMessage(t *testing.T) {
	f := newWebhookFixture([]domain.AutoReplyRule{
		{TenantID: "t1", ID: "rule-1", TriggerType: domain.TriggerContains, TriggerValue: "hi", ResponseContent: "hello", IsEnabled: true, Priority: 1},
	})
	f.sender.failFor = map[string]error{"U100": errors.New("provider unavailable")}
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{textEvent("U100", "m1", "hi")})

	if len(f.messages.inbound) != 1 {
		t.Fatalf("inbound messages = %d, want 1", len(f.messages.inbound))
	}
	if len(f.messages.outbound) != 0 {
		t.Fatalf("outbound messages = %d, want 0 (failed send is not recorded)", len(f.messages.outbound))
	}
	if f.rules.usage["rule-1"] != 0 {
		t.Fatalf("usage count = %d, want 0", f.rules.usage["rule-1"])
	}
	if f.conversations.conversations[0].FirstResponseAt != nil {
		t.Fatal("first response timestamp set despite failed send")
	}
}

func TestProcessEventsNonTextMessageSkipsAutoReply(t *testing.T) {
	f := newWebhookFixture([]domain.AutoReplyRule{
		{TenantID: "t1", ID: "rule-1", TriggerType: domain.TriggerContains, TriggerValue: "", ResponseContent: "hello", IsEnabled: true, Priority: 1},
	})
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")

	f.svc.ProcessEvents(context.Background(), tenant, []WebhookEvent{{
		Type:    "message",
		Source:  WebhookSource{Type: "user", UserID: "U100"},
		Message: WebhookMessage{ID: "m1", Type: "image"},
	}})

	if len(f.messages.inbound) != 1 {
		t.Fatalf("inbound messages = %d, want 1", len(f.messages.inbound))
	}
	if f.sender.callCount() != 0 {
		t.Fatalf("push calls = %d, want 0 for non-text message", f.sender.callCount())
	}
}

func TestResolveTenant(t *testing.T) {
	f := newWebhookFixture(nil)
	f.tenants.tenants = append(f.tenants.tenants, domain.Tenant{ID: "t2", ChannelID: "channel-2", IsActive: false})

	if _, err := f.svc.ResolveTenant(context.Background(), "channel-1"); err != nil {
		t.Fatalf("resolve active channel: %v", err)
	}
	if _, err := f.svc.ResolveTenant(context.Background(), "channel-2"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("inactive channel error = %v, want ErrTenantNotFound", err)
	}
	if _, err := f.svc.ResolveTenant(context.Background(), "missing"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("unknown channel error = %v, want ErrTenantNotFound", err)
	}
	if _, err := f.svc.ResolveTenant(context.Background(), "   "); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("blank destination error = %v, want ErrTenantNotFound", err)
	}
}

func TestVerifySignatureUsesTenantSecret(t *testing.T) {
	f := newWebhookFixture(nil)
	tenant, _ := f.tenants.GetByID(context.Background(), "t1")
	body := []byte(`{"destination":"channel-1","events":[]}`)

	if !f.svc.VerifySignature(tenant, body, signature.Sign("secret-1", body)) {
		t.Fatal("valid signature rejected")
	}
	if f.svc.VerifySignature(tenant, body, signature.Sign("secret-2", body)) {
		t.Fatal("signature under wrong secret accepted")
	}
}
