package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventPublisher emits durable domain events for downstream consumers
// (analytics, audit). Publishing is fire-and-forget from the caller's point
// of view; a nil publisher disables the stream.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID, key string, payload any) error
}

const eventsExchange = "inbox.events"

type AMQPPublisher struct {
	channel *amqp.Channel
}

func NewAMQPPublisher(conn *amqp.Connection) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &AMQPPublisher{channel: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, tenantID, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	routingKey := key
	if strings.TrimSpace(tenantID) != "" {
		routingKey = tenantID + "." + key
	}
	return p.channel.PublishWithContext(ctx, eventsExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
}
