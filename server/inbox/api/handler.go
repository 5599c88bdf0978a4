package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/auth"
	commonlog "github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/log"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/middleware"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/ratelimit"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/domain"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/inbox/service"
)

const signatureHeader = "x-line-signature"

type Handler struct {
	webhook       *service.WebhookService
	conversations *service.ConversationService
	broadcasts    *service.BroadcastService
	hub           *service.Hub
	auth          *commonauth.Service
	limiter       *ratelimit.Limiter
}

func NewHandler(
	webhook *service.WebhookService,
	conversations *service.ConversationService,
	broadcasts *service.BroadcastService,
	hub *service.Hub,
	limiter *ratelimit.Limiter,
	jwtSecret string,
	jwtTTLMinutes int,
) *Handler {
	auth := commonauth.NewService(jwtSecret, jwtTTLMinutes)
	return &Handler{
		webhook:       webhook,
		conversations: conversations,
		broadcasts:    broadcasts,
		hub:           hub,
		auth:          auth,
		limiter:       limiter,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, NewHealthResponse("ok")) })
	r.POST("/webhook/line", h.handleWebhook)
	r.GET("/ws", h.handleWS)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	api.Use(middleware.RateLimited(h.limiter))
	{
		api.POST("/broadcasts/:id/send", h.sendBroadcast)
		api.PATCH("/conversations/:id/status", h.updateConversationStatus)
		api.POST("/conversations/bulk-status", h.bulkUpdateConversationStatus)
		api.GET("/conversations/:id/messages", h.listConversationMessages)
		api.GET("/conversations/:id/history", h.getConversationHistory)
	}
}

// handleWebhook is the provider's entry point. Order matters: parse the
// payload (400), resolve the tenant so its secret is known (404), verify the
// signature over the raw bytes (401), then process. Once authenticated the
// call always acknowledges with 200 so the provider does not redeliver the
// batch over per-event failures.
func (h *Handler) handleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("unreadable body"))
		return
	}

	var payload service.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("malformed payload"))
		return
	}

	tenant, err := h.webhook.ResolveTenant(c.Request.Context(), payload.Destination)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, NewErrorResponse(ErrUnknownChannel))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	if !h.webhook.VerifySignature(tenant, rawBody, c.GetHeader(signatureHeader)) {
		commonlog.Warnf("event=webhook_ingest action=verify_signature status=failed tenant_id=%s", tenant.ID)
		c.JSON(http.StatusUnauthorized, NewErrorResponse(ErrInvalidSignature))
		return
	}

	h.webhook.ProcessEvents(c.Request.Context(), tenant, payload.Events)
	c.String(http.StatusOK, "")
}

func (h *Handler) handleWS(c *gin.Context) {
	token, ok := wsAccessToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("bearer token is required"))
		return
	}
	userID, tenantID, _, err := h.auth.ParseAuthContext(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("invalid token"))
		return
	}
	c.Set("auth_user_id", userID)
	c.Set("auth_tenant_id", tenantID)
	h.hub.HandleWS(c)
}

func wsAccessToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		return "", false
	}
	return token, true
}

func (h *Handler) sendBroadcast(c *gin.Context) {
	tenantID, err := tenantFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	actorID, _, err := actorFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	broadcastID := c.Param("id")
	if err := h.broadcasts.Start(c.Request.Context(), tenantID, broadcastID, actorID); err != nil {
		switch {
		case errors.Is(err, domain.ErrBroadcastNotFound):
			c.JSON(http.StatusNotFound, NewErrorResponse(err.Error()))
		case errors.Is(err, domain.ErrBroadcastAlreadyRunning):
			c.JSON(http.StatusConflict, NewErrorResponse(err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		}
		return
	}
	c.JSON(http.StatusAccepted, NewIDResponse(broadcastID))
}

func (h *Handler) updateConversationStatus(c *gin.Context) {
	tenantID, err := tenantFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	actorID, _, err := actorFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	conv, err := h.conversations.Transition(c.Request.Context(), tenantID, c.Param("id"), domain.ConversationStatus(req.Status), actorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) bulkUpdateConversationStatus(c *gin.Context) {
	tenantID, err := tenantFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	actorID, _, err := actorFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	var req struct {
		ConversationIDs []string `json:"conversation_ids" binding:"required"`
		Status          string   `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	updated, err := h.conversations.BulkTransition(c.Request.Context(), tenantID, req.ConversationIDs, domain.ConversationStatus(req.Status), actorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewBulkUpdateResponse(updated))
}

func (h *Handler) listConversationMessages(c *gin.Context) {
	tenantID, err := tenantFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	cursor := c.Query("cursor")
	items, nextCursor, err := h.conversations.ListMessages(c.Request.Context(), tenantID, c.Param("id"), limit, cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewPaginatedResponse(items, nextCursor))
}

func (h *Handler) getConversationHistory(c *gin.Context) {
	tenantID, err := tenantFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return
	}
	items, err := h.conversations.StatusHistory(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, items)
}

func actorFromContext(c *gin.Context) (string, string, error) {
	rawID, ok := c.Get("auth_user_id")
	if !ok {
		return "", "", fmt.Errorf(ErrUnauthorized)
	}
	rawRole, ok := c.Get("auth_role")
	if !ok {
		return "", "", fmt.Errorf(ErrUnauthorized)
	}
	userID, ok := rawID.(string)
	if !ok {
		return "", "", fmt.Errorf(ErrUnauthorized)
	}
	role, ok := rawRole.(string)
	if !ok {
		return "", "", fmt.Errorf(ErrUnauthorized)
	}
	return userID, role, nil
}

func tenantFromContext(c *gin.Context) (string, error) {
	rawTenantID, ok := c.Get("auth_tenant_id")
	if !ok {
		return "", fmt.Errorf(ErrUnauthorized)
	}
	tenantID, ok := rawTenantID.(string)
	if !ok {
		return "", fmt.Errorf(ErrUnauthorized)
	}
	return tenantID, nil
}
