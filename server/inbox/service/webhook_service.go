package service

import (
	"context"
	"errors"
	"strings"

	commonlog "github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/log"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/signature"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type TenantStore interface {
	GetByChannelID(ctx context.Context, channelID string) (domain.Tenant, error)
	GetByID(ctx context.Context, tenantID string) (domain.Tenant, error)
}

type CustomerStore interface {
	UpsertByExternalID(ctx context.Context, tenantID, externalUserID, displayName string) (domain.Customer, bool, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.Customer, error)
	ListByIDs(ctx context.Context, tenantID string, customerIDs []string) ([]domain.Customer, error)
}

type MessageStore interface {
	InsertInbound(ctx context.Context, message domain.Message) (domain.Message, error)
	InsertOutbound(ctx context.Context, message domain.Message) (domain.Message, error)
}

// Provider webhook payload shapes; fixed external contract.
type WebhookPayload struct {
	Destination string         `json:"destination"`
	Events      []WebhookEvent `json:"events"`
}

type WebhookEvent struct {
	Type    string         `json:"type"`
	Source  WebhookSource  `json:"source"`
	Message WebhookMessage `json:"message"`
}

type WebhookSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type WebhookMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// WebhookService turns an authenticated inbound webhook call into durable
// conversation state and, when a rule matches, an outbound auto-reply.
//
// Loop policy: only provider-originated inbound messages are ever evaluated
// for auto-reply; auto-replies are recorded as outbound and never re-enter
// the matcher, so reply chains cannot form. A customer sending an
// auto-reply's text back is a fresh inbound message and is answered again.
type WebhookService struct {
	tenants       TenantStore
	customers     CustomerStore
	conversations ConversationStore
	messages      MessageStore
	rules         AutoReplyStore
	matcher       *AutoReplyService
	sender        Sender
	realtime      RealtimePublisher
	events        EventPublisher
}

func NewWebhookService(
	tenants TenantStore,
	customers CustomerStore,
	conversations ConversationStore,
	messages MessageStore,
	rules AutoReplyStore,
	matcher *AutoReplyService,
	sender Sender,
	realtime RealtimePublisher,
	events EventPublisher,
) *WebhookService {
	return &WebhookService{
		tenants:       tenants,
		customers:     customers,
		conversations: conversations,
		messages:      messages,
		rules:         rules,
		matcher:       matcher,
		sender:        sender,
		realtime:      realtime,
		events:        events,
	}
}

// ResolveTenant maps the payload's destination channel to a tenant. This runs
// before signature verification because the signing secret is tenant-scoped.
func (s *WebhookService) ResolveTenant(ctx context.Context, destination string) (domain.Tenant, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	tenant, err := s.tenants.GetByChannelID(ctx, destination)
	if err != nil {
		return domain.Tenant{}, err
	}
	if !tenant.IsActive {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	return tenant, nil
}

// VerifySignature checks the provider signature over the exact raw body bytes.
func (s *WebhookService) VerifySignature(tenant domain.Tenant, rawBody []byte, provided string) bool {
	return signature.Verify(tenant.ChannelSecret, rawBody, provided)
}

// ProcessEvents handles each event independently: one bad event is logged and
// skipped, the rest proceed. The caller acknowledges the batch regardless, so
// the provider does not redeliver it endlessly.
func (s *WebhookService) ProcessEvents(ctx context.Context, tenant domain.Tenant, events []WebhookEvent) {
	for i, event := range events {
		if err := s.processEvent(ctx, tenant, event); err != nil {
			commonlog.Errorf("event=webhook_ingest action=process_event status=failed tenant_id=%s event_index=%d error=%v", tenant.ID, i, err)
		}
	}
}

func (s *WebhookService) processEvent(ctx context.Context, tenant domain.Tenant, event WebhookEvent) error {
	if event.Type != "message" || event.Source.Type != "user" {
		return nil
	}
	externalUserID := strings.TrimSpace(event.Source.UserID)
	externalMessageID := strings.TrimSpace(event.Message.ID)
	messageType := strings.TrimSpace(event.Message.Type)
	if externalUserID == "" || externalMessageID == "" || messageType == "" {
		commonlog.Debugf("event=webhook_ingest action=skip_event reason=malformed tenant_id=%s", tenant.ID)
		return nil
	}

	// Display name starts as the external id; profile sync renames it later.
	customer, created, err := s.customers.UpsertByExternalID(ctx, tenant.ID, externalUserID, externalUserID)
	if err != nil {
		return err
	}
	if created {
		commonlog.Infof("event=webhook_ingest action=create_customer tenant_id=%s customer_id=%s", tenant.ID, customer.ID)
	}

	conv, err := s.conversations.FindActiveByCustomer(ctx, tenant.ID, customer.ID)
	if err != nil {
		return err
	}
	if conv == nil {
		newConv, err := s.conversations.Create(ctx, tenant.ID, customer.ID)
		switch {
		case err == nil:
			conv = &newConv
			commonlog.Infof("event=webhook_ingest action=create_conversation tenant_id=%s conversation_id=%s customer_id=%s", tenant.ID, conv.ID, customer.ID)
		case errors.Is(err, domain.ErrActiveConversationExists):
			// Lost the create race with a concurrent delivery; the winner's
			// row is the customer's active conversation.
			conv, err = s.conversations.FindActiveByCustomer(ctx, tenant.ID, customer.ID)
			if err != nil {
				return err
			}
			if conv == nil {
				return domain.ErrActiveConversationExists
			}
		default:
			return err
		}
	}

	msg, err := s.messages.InsertInbound(ctx, domain.Message{
		TenantID:          tenant.ID,
		ConversationID:    conv.ID,
		MessageType:       messageType,
		Content:           event.Message.Text,
		ExternalMessageID: &externalMessageID,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			// Expected under the provider's at-least-once retries: the first
			// delivery already ran every side effect.
			commonlog.Infof("event=webhook_ingest action=skip_event reason=duplicate tenant_id=%s external_message_id=%s", tenant.ID, externalMessageID)
			return nil
		}
		return err
	}

	if err := s.conversations.TouchOnInbound(ctx, tenant.ID, conv.ID, msg.CreatedAt); err != nil {
		return err
	}
	conv.UnreadCount++
	conv.LastMessageAt = &msg.CreatedAt

	s.realtime.Publish(tenant.ID, "new-message", msg)
	s.realtime.Publish(tenant.ID, "conversation-updated", *conv)
	s.publishEvent(ctx, tenant.ID, "message.received", msg)

	if messageType == "text" {
		s.maybeAutoReply(ctx, tenant, customer, conv, event.Message.Text)
	}
	return nil
}

// maybeAutoReply never fails the surrounding ingestion: the inbound message
// is already persisted and stays persisted whatever happens here.
func (s *WebhookService) maybeAutoReply(ctx context.Context, tenant domain.Tenant, customer domain.Customer, conv *domain.Conversation, text string) {
	rule, err := s.matcher.Match(ctx, tenant.ID, text)
	if err != nil {
		commonlog.Errorf("event=auto_reply action=match status=failed tenant_id=%s conversation_id=%s error=%v", tenant.ID, conv.ID, err)
		return
	}
	if rule == nil {
		return
	}

	if err := s.sender.Push(ctx, tenant.ChannelAccessToken, customer.ExternalUserID, rule.ResponseContent); err != nil {
		commonlog.Warnf("event=auto_reply action=send status=failed tenant_id=%s conversation_id=%s rule_id=%s error=%v", tenant.ID, conv.ID, rule.ID, err)
		return
	}

	out, err := s.messages.InsertOutbound(ctx, domain.Message{
		TenantID:        tenant.ID,
		ConversationID:  conv.ID,
		MessageType:     "text",
		Content:         rule.ResponseContent,
		AutoReplyRuleID: &rule.ID,
	})
	if err != nil {
		commonlog.Errorf("event=auto_reply action=persist status=failed tenant_id=%s conversation_id=%s rule_id=%s error=%v", tenant.ID, conv.ID, rule.ID, err)
		return
	}
	if err := s.rules.IncrementUsage(ctx, tenant.ID, rule.ID); err != nil {
		commonlog.Warnf("event=auto_reply action=usage_increment status=failed tenant_id=%s rule_id=%s error=%v", tenant.ID, rule.ID, err)
	}
	if err := s.conversations.SetFirstResponseAt(ctx, tenant.ID, conv.ID, out.CreatedAt); err != nil {
		commonlog.Warnf("event=auto_reply action=first_response_stamp status=failed tenant_id=%s conversation_id=%s error=%v", tenant.ID, conv.ID, err)
	}
	commonlog.Infof("event=auto_reply action=send status=ok tenant_id=%s conversation_id=%s rule_id=%s", tenant.ID, conv.ID, rule.ID)

	conv.LastMessageAt = &out.CreatedAt
	s.realtime.Publish(tenant.ID, "new-message", out)
	s.realtime.Publish(tenant.ID, "conversation-updated", *conv)
	s.publishEvent(ctx, tenant.ID, "autoreply.sent", out)
}

func (s *WebhookService) publishEvent(ctx context.Context, tenantID, key string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, tenantID, key, payload); err != nil {
		commonlog.Warnf("event=domain_events action=publish status=failed tenant_id=%s kind=%s error=%v", tenantID, key, err)
	}
}
