// Package redis backs internal/bus.Publisher with Redis Pub/Sub, used when
// the orchestrator runs as multiple processes subscribing to the same
// chat's events.
package redis

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"

	"github.com/anthonybaldwin/crewforge/internal/bus"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

// Bus publishes bus.Event values, JSON-encoded, to a single Redis channel
// and fans incoming messages out to local subscribers the same way
// internal/bus.Bus does in-process.
type Bus struct {
	client  *goredis.Client
	channel string
	logger  telemetry.Logger

	local *bus.Bus
	ctx   context.Context
	stop  context.CancelFunc
}

// New builds a Bus publishing to and subscribing from the given Redis
// channel (typically bus.Topic). It starts a background goroutine draining
// the Redis subscription into the local fan-out Bus immediately.
func New(client *goredis.Client, channel string, logger telemetry.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		client:  client,
		channel: channel,
		logger:  logger,
		local:   bus.New(),
		ctx:     ctx,
		stop:    cancel,
	}
	go b.relay()
	return b
}

// Publish serializes e and publishes it to the Redis channel. Local
// subscribers receive it via the relay goroutine once Redis delivers it
// back, keeping a single ordered stream regardless of which process
// published.
func (b *Bus) Publish(e bus.Event) {
	payload, err := bus.Marshal(e)
	if err != nil {
		if b.logger != nil {
			b.logger.Error(b.ctx, "bus: marshal event failed", "error", err)
		}
		return
	}
	if err := b.client.Publish(b.ctx, b.channel, payload).Err(); err != nil {
		if b.logger != nil {
			b.logger.Error(b.ctx, "bus: redis publish failed", "error", err)
		}
	}
}

// Subscribe registers a local subscription fed from the Redis relay.
func (b *Bus) Subscribe() *bus.Subscription {
	return b.local.Subscribe()
}

// FilesChanged implements sandbox.Notifier.
func (b *Bus) FilesChanged(projectID string, paths []string) {
	b.Publish(bus.Event{Kind: bus.EventFilesChanged, FilesChanged: &bus.FilesChanged{ProjectID: projectID, Files: paths}})
}

// Close stops the relay goroutine. It does not close the underlying Redis
// client, which the caller owns.
func (b *Bus) Close() {
	b.stop()
}

func (b *Bus) relay() {
	sub := b.client.Subscribe(b.ctx, b.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var e bus.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				if b.logger != nil {
					b.logger.Error(b.ctx, "bus: decode event failed", "error", err)
				}
				continue
			}
			b.local.Publish(e)
		}
	}
}
