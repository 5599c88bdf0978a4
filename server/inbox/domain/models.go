package domain

import "time"

type ConversationStatus string
type MessageDirection string
type BroadcastStatus string
type BroadcastTargetType string
type TriggerType string

const (
	ConversationOpen     ConversationStatus = "open"
	ConversationPending  ConversationStatus = "pending"
	ConversationResolved ConversationStatus = "resolved"
	ConversationClosed   ConversationStatus = "closed"
)

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

const (
	BroadcastDraft     BroadcastStatus = "draft"
	BroadcastScheduled BroadcastStatus = "scheduled"
	BroadcastSending   BroadcastStatus = "sending"
	BroadcastSent      BroadcastStatus = "sent"
	BroadcastFailed    BroadcastStatus = "failed"
)

const (
	TargetAll     BroadcastTargetType = "all"
	TargetSegment BroadcastTargetType = "segment"
	TargetCustom  BroadcastTargetType = "custom"
)

const (
	TriggerContains TriggerType = "contains"
	TriggerExact    TriggerType = "exact"
)

// Tenant is one business's isolated messaging account, identified toward the
// provider by its channel id. The channel secret signs inbound webhooks and
// the access token authorizes outbound pushes.
type Tenant struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	ChannelID             string    `json:"channel_id"`
	ChannelSecret         string    `json:"-"`
	ChannelAccessToken    string    `json:"-"`
	FirstResponseSLASecs  int       `json:"first_response_sla_secs"`
	ResolutionSLASecs     int       `json:"resolution_sla_secs"`
	IsActive              bool      `json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Customer is one external chat-user identity, unique per
// (tenant_id, external_user_id). Never hard-deleted; is_blocked is the soft
// removal state.
type Customer struct {
	TenantID       string    `json:"tenant_id"`
	ID             string    `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	DisplayName    string    `json:"display_name"`
	IsBlocked      bool      `json:"is_blocked"`
	LastContactAt  time.Time `json:"last_contact_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation is the unit of staff work. At most one conversation per
// customer may be open or pending at a time; inbound traffic reuses it.
type Conversation struct {
	TenantID        string             `json:"tenant_id"`
	ID              string             `json:"id"`
	CustomerID      string             `json:"customer_id"`
	Status          ConversationStatus `json:"status"`
	UnreadCount     int                `json:"unread_count"`
	LastMessageAt   *time.Time         `json:"last_message_at,omitempty"`
	FirstResponseAt *time.Time         `json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	ClosedAt        *time.Time         `json:"closed_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// ActiveConversationStatuses are the states eligible to receive new inbound
// messages.
var ActiveConversationStatuses = []ConversationStatus{ConversationOpen, ConversationPending}

type StatusChange struct {
	TenantID       string             `json:"tenant_id"`
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	FromStatus     ConversationStatus `json:"from_status"`
	ToStatus       ConversationStatus `json:"to_status"`
	ChangedBy      string             `json:"changed_by"`
	ChangedAt      time.Time          `json:"changed_at"`
}

// Message is immutable once created. ExternalMessageID is present only for
// provider-originated inbound messages and is the idempotency key against the
// provider's at-least-once webhook retries.
type Message struct {
	TenantID          string           `json:"tenant_id"`
	ID                string           `json:"id"`
	ConversationID    string           `json:"conversation_id"`
	Direction         MessageDirection `json:"direction"`
	MessageType       string           `json:"message_type"`
	Content           string           `json:"content"`
	ExternalMessageID *string          `json:"external_message_id,omitempty"`
	AutoReplyRuleID   *string          `json:"auto_reply_rule_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

type AutoReplyRule struct {
	TenantID        string      `json:"tenant_id"`
	ID              string      `json:"id"`
	TriggerType     TriggerType `json:"trigger_type"`
	TriggerValue    string      `json:"trigger_value"`
	ResponseContent string      `json:"response_content"`
	IsEnabled       bool        `json:"is_enabled"`
	Priority        int         `json:"priority"`
	UsageCount      int64       `json:"usage_count"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

type Broadcast struct {
	TenantID       string              `json:"tenant_id"`
	ID             string              `json:"id"`
	Content        string              `json:"content"`
	TargetType     BroadcastTargetType `json:"target_type"`
	TargetIDs      []string            `json:"target_ids,omitempty"`
	Status         BroadcastStatus     `json:"status"`
	RecipientCount int                 `json:"recipient_count"`
	SentCount      int                 `json:"sent_count"`
	FailedCount    int                 `json:"failed_count"`
	ScheduledAt    *time.Time          `json:"scheduled_at,omitempty"`
	SentAt         *time.Time          `json:"sent_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}
