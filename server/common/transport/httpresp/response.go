package httpresp

const (
	ErrUnauthorized        = "unauthorized"
	ErrMissingBearerToken  = "bearer token is required"
	ErrInvalidToken        = "invalid token"
	ErrForbidden           = "forbidden"
	ErrInsufficientRole    = "insufficient permissions"
	ErrInvalidSignature    = "invalid signature"
	ErrUnknownChannel      = "unknown channel"
	ErrRateLimited         = "rate limit exceeded"
	ErrBroadcastInProgress = "broadcast delivery already in progress"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type IDResponse struct {
	ID string `json:"id"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewIDResponse(id string) IDResponse {
	return IDResponse{ID: id}
}
