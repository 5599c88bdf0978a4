package service

import (
	"context"
	"fmt"
	"time"

	commonlog "github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/log"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type ConversationStore interface {
	FindActiveByCustomer(ctx context.Context, tenantID, customerID string) (*domain.Conversation, error)
	Create(ctx context.Context, tenantID, customerID string) (domain.Conversation, error)
	GetByID(ctx context.Context, tenantID, conversationID string) (domain.Conversation, error)
	TouchOnInbound(ctx context.Context, tenantID, conversationID string, at time.Time) error
	SetFirstResponseAt(ctx context.Context, tenantID, conversationID string, at time.Time) error
	UpdateStatusWithHistory(ctx context.Context, tenantID, conversationID string, to domain.ConversationStatus, changedBy string) (domain.Conversation, error)
	ListStatusHistory(ctx context.Context, tenantID, conversationID string) ([]domain.StatusChange, error)
}

type MessageLister interface {
	ListByConversation(ctx context.Context, tenantID, conversationID string, limit int, cursorID *string) ([]domain.Message, error)
}

type ConversationService struct {
	conversations ConversationStore
	messages      MessageLister
	realtime      RealtimePublisher
}

func NewConversationService(conversations ConversationStore, messages MessageLister, realtime RealtimePublisher) *ConversationService {
	return &ConversationService{conversations: conversations, messages: messages, realtime: realtime}
}

var validStatuses = map[domain.ConversationStatus]struct{}{
	domain.ConversationOpen:     {},
	domain.ConversationPending:  {},
	domain.ConversationResolved: {},
	domain.ConversationClosed:   {},
}

// Transition moves a conversation to any status. Transitions are staff-driven
// and allowed in any direction; the repository stamps or clears
// resolved_at/closed_at and appends the audit record atomically.
func (s *ConversationService) Transition(ctx context.Context, tenantID, conversationID string, to domain.ConversationStatus, actorID string) (domain.Conversation, error) {
	if _, ok := validStatuses[to]; !ok {
		return domain.Conversation{}, fmt.Errorf("invalid conversation status: %s", to)
	}
	conv, err := s.conversations.UpdateStatusWithHistory(ctx, tenantID, conversationID, to, actorID)
	if err != nil {
		return domain.Conversation{}, err
	}
	commonlog.Infof("event=conversation_transition status=ok tenant_id=%s conversation_id=%s to=%s actor_id=%s", tenantID, conversationID, to, actorID)
	s.realtime.Publish(tenantID, "conversation-updated", conv)
	return conv, nil
}

// BulkTransition applies the same transition to each conversation
// independently: one audit record per affected conversation, and a failure on
// one does not stop the rest.
func (s *ConversationService) BulkTransition(ctx context.Context, tenantID string, conversationIDs []string, to domain.ConversationStatus, actorID string) (int, error) {
	if _, ok := validStatuses[to]; !ok {
		return 0, fmt.Errorf("invalid conversation status: %s", to)
	}
	updated := 0
	for _, conversationID := range conversationIDs {
		if _, err := s.Transition(ctx, tenantID, conversationID, to, actorID); err != nil {
			commonlog.Warnf("event=conversation_transition status=failed tenant_id=%s conversation_id=%s to=%s error=%v", tenantID, conversationID, to, err)
			continue
		}
		updated++
	}
	return updated, nil
}

func (s *ConversationService) StatusHistory(ctx context.Context, tenantID, conversationID string) ([]domain.StatusChange, error) {
	return s.conversations.ListStatusHistory(ctx, tenantID, conversationID)
}

func (s *ConversationService) ListMessages(ctx context.Context, tenantID, conversationID string, limit int, cursor string) ([]domain.Message, string, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var cursorID *string
	if cursor != "" {
		cursorID = &cursor
	}
	items, err := s.messages.ListByConversation(ctx, tenantID, conversationID, limit, cursorID)
	if err != nil {
		return nil, "", err
	}
	nextCursor := ""
	if len(items) == limit {
		nextCursor = items[len(items)-1].ID
	}
	return items, nextCursor, nil
}
