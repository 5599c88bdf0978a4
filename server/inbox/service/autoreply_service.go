package service

import (
	"context"
	"strings"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
)

type AutoReplyStore interface {
	ListEnabled(ctx context.Context, tenantID string) ([]domain.AutoReplyRule, error)
	IncrementUsage(ctx context.Context, tenantID, ruleID string) error
}

// AutoReplyService selects the rule to answer an inbound text with. Matching
// is a pure read: usage bookkeeping and loop prevention belong to the caller.
type AutoReplyService struct {
	rules AutoReplyStore
}

func NewAutoReplyService(rules AutoReplyStore) *AutoReplyService {
	return &AutoReplyService{rules: rules}
}

// Match returns at most one enabled rule: the first match in priority order
// (highest priority wins, ties broken by most recent update). Nil when
// nothing matches.
func (s *AutoReplyService) Match(ctx context.Context, tenantID, text string) (*domain.AutoReplyRule, error) {
	rules, err := s.rules.ListEnabled(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if ruleMatches(rules[i], text) {
			return &rules[i], nil
		}
	}
	return nil, nil
}

func ruleMatches(rule domain.AutoReplyRule, text string) bool {
	if rule.TriggerValue == "" {
		return false
	}
	switch rule.TriggerType {
	case domain.TriggerContains:
		return strings.Contains(text, rule.TriggerValue)
	case domain.TriggerExact:
		return text == rule.TriggerValue
	default:
		return false
	}
}
