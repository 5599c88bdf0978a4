package api

import (
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/transport/httpresp"
)

const (
	ErrUnauthorized     = httpresp.ErrUnauthorized
	ErrInvalidSignature = httpresp.ErrInvalidSignature
	ErrUnknownChannel   = httpresp.ErrUnknownChannel
)

type ErrorResponse = httpresp.ErrorResponse
type OKResponse = httpresp.OKResponse
type IDResponse = httpresp.IDResponse

type HealthResponse struct {
	Status string `json:"status"`
}

type PaginatedResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type BulkUpdateResponse struct {
	Updated int `json:"updated"`
}

func NewErrorResponse(message string) ErrorResponse {
	return httpresp.NewErrorResponse(message)
}

func NewOKResponse() OKResponse {
	return httpresp.NewOKResponse()
}

func NewIDResponse(id string) IDResponse {
	return httpresp.NewIDResponse(id)
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewPaginatedResponse[T any](items []T, nextCursor string) PaginatedResponse[T] {
	return PaginatedResponse[T]{Items: items, NextCursor: nextCursor}
}

func NewBulkUpdateResponse(updated int) BulkUpdateResponse {
	return BulkUpdateResponse{Updated: updated}
}
