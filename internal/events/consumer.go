// Package events contains the background consumer that listens for
// workspace lifecycle messages and triggers provisioning.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"aegis.org/internal/obs"
	"aegis.org/internal/workspace"
)

const workspaceExchange = "workspace.created"

// WorkspaceCreatedEvent is published by the tenancy service when a new
// workspace is provisioned. The key is the only field this service needs;
// everything else about the tenant lives behind the store.
type WorkspaceCreatedEvent struct {
	Key string `json:"key"`
}

// Initializer is the part of the workspace manager the consumer drives.
type Initializer interface {
	EnsureInitialized(ctx context.Context, key string) (*workspace.Workspace, error)
}

// Consumer subscribes to the workspace-created fanout exchange and ensures
// each announced workspace is bootstrapped. It runs a reconnect loop with
// capped exponential backoff and only stops when its context is cancelled.
type Consumer struct {
	url     string
	manager Initializer
}

// NewConsumer builds a consumer for the broker at url.
func NewConsumer(url string, manager Initializer) (*Consumer, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("events: broker url is required")
	}
	if manager == nil {
		return nil, errors.New("events: manager is required")
	}
	return &Consumer{url: url, manager: manager}, nil
}

// Run blocks until ctx is cancelled, reconnecting to the broker whenever
// the connection or channel drops.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			obs.Warn("events", "broker dial failed", map[string]any{
				"err":        err.Error(),
				"retryAfter": backoff.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		obs.Warn("events", "consume loop ended, reconnecting", map[string]any{"err": err.Error()})
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(workspaceExchange, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	// Exclusive auto-delete queue: every instance of this service gets its
	// own copy of each workspace announcement.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", workspaceExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				obs.Warn("events", "workspace event rejected", map[string]any{"err": err.Error()})
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var ev WorkspaceCreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if strings.TrimSpace(ev.Key) == "" {
		return errors.New("event has no workspace key")
	}
	// EnsureInitialized schedules its own retry on failure; a nack here
	// would only duplicate that.
	if _, err := c.manager.EnsureInitialized(ctx, ev.Key); err != nil {
		obs.Warn("events", "workspace bootstrap deferred to retry", map[string]any{
			"workspace": ev.Key,
			"err":       err.Error(),
		})
	}
	obs.Info("events", "workspace event handled", map[string]any{"workspace": ev.Key})
	return nil
}
