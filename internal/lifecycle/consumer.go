// Package lifecycle consumes order lifecycle events published by the order
// service and republishes them on the in-process bus.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sumire/relay/internal/domain"
)

const DefaultChannel = "orders.lifecycle"

var ErrUnknownEvent = errors.New("unknown order event")

// Publisher receives decoded events.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

type payload struct {
	Type    string    `json:"type"`
	OrderID int64     `json:"order_id"`
	At      time.Time `json:"at"`
}

// Decode parses a lifecycle message into its domain event.
func Decode(data []byte) (domain.Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode order event: %w", err)
	}
	if p.OrderID <= 0 {
		return nil, fmt.Errorf("decode order event: %w: order_id %d", domain.ErrInvalidInput, p.OrderID)
	}
	at := p.At.UTC()
	if p.At.IsZero() {
		at = time.Now().UTC()
	}

	switch domain.EventName(p.Type) {
	case domain.EventOrderCompleted:
		return domain.OrderCompleted{OrderID: p.OrderID, At: at}, nil
	case domain.EventOrderCanceled:
		return domain.OrderCanceled{OrderID: p.OrderID, At: at}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, p.Type)
}

// Consumer subscribes to the order lifecycle channel.
type Consumer struct {
	client    *redis.Client
	channel   string
	publisher Publisher
}

// NewConsumer creates a Consumer. An empty channel uses DefaultChannel.
func NewConsumer(client *redis.Client, channel string, publisher Publisher) *Consumer {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Consumer{client: client, channel: channel, publisher: publisher}
}

// Run receives messages until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}
	slog.Info("order lifecycle consumer started", "channel", c.channel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, data []byte) {
	ev, err := Decode(data)
	if err != nil {
		slog.Warn("skipping order lifecycle message", "channel", c.channel, "error", err)
		return
	}
	c.publisher.Publish(ctx, ev)
}
