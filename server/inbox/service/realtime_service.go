package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	commonlog "github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/log"
)

// RealtimePublisher pushes ephemeral UI events to every live subscriber of a
// tenant. Best-effort: no backlog, no replay.
type RealtimePublisher interface {
	Publish(tenantID, event string, payload any)
}

type RealtimeEvent struct {
	Event    string `json:"event"`
	TenantID string `json:"tenant_id"`
	Payload  any    `json:"payload"`
}

const (
	realtimeEventsChannel = "inbox:events"
	subscriberBufferSize  = 64
	writeWait             = 5 * time.Second
)

type subscriber struct {
	tenantID string
	conn     *websocket.Conn
	send     chan []byte
	once     sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.send)
		_ = s.conn.Close()
	})
}

// Hub is the per-tenant fan-out registry. With redis configured, publishes go
// through a shared channel so every instance dispatches to its own local
// subscribers; without it, dispatch is local-only (single instance).
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	redis       *redis.Client
	redisSub    *redis.PubSub
	subCancel   context.CancelFunc
}

func NewHub() *Hub {
	return &Hub{subscribers: map[string]map[*subscriber]struct{}{}}
}

func (h *Hub) UseRedis(client *redis.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.redis = client
}

func (h *Hub) StartRedisSubscriber(ctx context.Context) error {
	h.mu.Lock()
	if h.redis == nil {
		h.mu.Unlock()
		return errors.New("redis client is nil")
	}
	if h.redisSub != nil {
		h.mu.Unlock()
		return nil
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := h.redis.Subscribe(subCtx, realtimeEventsChannel)
	h.redisSub = sub
	h.subCancel = cancel
	h.mu.Unlock()

	go h.consumeEvents(subCtx, sub)
	return nil
}

func (h *Hub) StopRedisSubscriber() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subCancel != nil {
		h.subCancel()
		h.subCancel = nil
	}
	if h.redisSub != nil {
		_ = h.redisSub.Close()
		h.redisSub = nil
	}
}

func (h *Hub) Publish(tenantID, event string, payload any) {
	raw, err := json.Marshal(RealtimeEvent{Event: event, TenantID: tenantID, Payload: payload})
	if err != nil {
		commonlog.Errorf("event=realtime_hub action=encode status=failed tenant_id=%s kind=%s error=%v", tenantID, event, err)
		return
	}

	h.mu.RLock()
	redisClient := h.redis
	h.mu.RUnlock()
	if redisClient != nil {
		if err := redisClient.Publish(context.Background(), realtimeEventsChannel, raw).Err(); err == nil {
			return
		} else {
			commonlog.Warnf("event=realtime_hub action=publish status=failed tenant_id=%s kind=%s error=%v", tenantID, event, err)
		}
	}
	fanout := h.dispatchLocal(tenantID, raw)
	commonlog.Debugf("event=realtime_hub action=local_dispatch tenant_id=%s kind=%s fanout_count=%d", tenantID, event, fanout)
}

// dispatchLocal hands the encoded event to every local subscriber of the
// tenant. A subscriber whose buffer is full is disconnected rather than
// allowed to block the publisher or the other subscribers.
func (h *Hub) dispatchLocal(tenantID string, raw []byte) int {
	h.mu.RLock()
	var overflowed []*subscriber
	count := 0
	for sub := range h.subscribers[tenantID] {
		select {
		case sub.send <- raw:
			count++
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflowed {
		commonlog.Warnf("event=realtime_hub action=drop_subscriber reason=buffer_overflow tenant_id=%s", tenantID)
		h.unregister(sub)
	}
	return count
}

func (h *Hub) consumeEvents(ctx context.Context, sub *redis.PubSub) {
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var event RealtimeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			continue
		}
		h.dispatchLocal(event.TenantID, []byte(msg.Payload))
	}
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.tenantID]; !ok {
		h.subscribers[sub.tenantID] = map[*subscriber]struct{}{}
	}
	h.subscribers[sub.tenantID][sub] = struct{}{}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.subscribers[sub.tenantID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, sub.tenantID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) subscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[tenantID])
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS upgrades the connection and attaches it to the authenticated
// tenant's fan-out until the client goes away.
func (h *Hub) HandleWS(c *gin.Context) {
	tenantID := ""
	if rawTenantID, ok := c.Get("auth_tenant_id"); ok {
		if authTenantID, ok := rawTenantID.(string); ok {
			tenantID = strings.TrimSpace(authTenantID)
		}
	}
	if tenantID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := &subscriber{tenantID: tenantID, conn: conn, send: make(chan []byte, subscriberBufferSize)}
	h.register(sub)
	commonlog.Infof("event=realtime_hub action=subscribe tenant_id=%s subscriber_count=%d", tenantID, h.subscriberCount(tenantID))
	defer func() {
		h.unregister(sub)
		commonlog.Infof("event=realtime_hub action=unsubscribe tenant_id=%s subscriber_count=%d", tenantID, h.subscriberCount(tenantID))
	}()

	go sub.writeLoop()

	// Inbound frames carry no state; reading only detects disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) writeLoop() {
	for raw := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			_ = s.conn.Close()
			return
		}
	}
}
