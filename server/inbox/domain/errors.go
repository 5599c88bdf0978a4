package domain

import "errors"

var (
	ErrTenantNotFound           = errors.New("tenant not found")
	ErrBroadcastNotFound        = errors.New("broadcast not found")
	ErrDuplicateMessage         = errors.New("duplicate external message id")
	ErrActiveConversationExists = errors.New("customer already has an active conversation")
	ErrBroadcastAlreadyRunning  = errors.New("broadcast delivery already in progress")
)
