package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/model"
)

// ChannelPrefix prefixes the per-run Redis pub/sub channel.
const ChannelPrefix = "research:events:"

// Channel returns the Redis channel for a research run.
func Channel(researchID string) string {
	return ChannelPrefix + researchID
}

type envelope struct {
	Origin string      `json:"origin"`
	Event  model.Event `json:"event"`
}

// RedisBridge republishes local events on Redis and relays events from
// other replicas into the local Registry.
type RedisBridge struct {
	client  redis.UniversalClient
	local   *Registry
	origin  string
	timeout time.Duration
}

// NewRedisBridge creates a bridge over client feeding local.
func NewRedisBridge(client redis.UniversalClient, local *Registry) *RedisBridge {
	return &RedisBridge{
		client:  client,
		local:   local,
		origin:  uuid.NewString(),
		timeout: 2 * time.Second,
	}
}

// Publish delivers ev locally, then to Redis. Redis failures are logged.
func (b *RedisBridge) Publish(ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.local.Publish(ev)

	payload, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		zap.L().Warn("events: marshal for redis", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, Channel(ev.ResearchID), payload).Err(); err != nil {
		zap.L().Warn("events: redis publish failed",
			zap.String("research_id", ev.ResearchID),
			zap.Error(err),
		)
	}
}

// Run relays remote events until ctx is done. Events this bridge
// published itself are skipped.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close() //nolint:errcheck

	if _, err := sub.Receive(ctx); err != nil {
		return eris.Wrap(err, "events: redis subscribe")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(msg)
		}
	}
}

func (b *RedisBridge) relay(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		zap.L().Warn("events: bad redis payload", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	if env.Event.ResearchID == "" {
		env.Event.ResearchID = strings.TrimPrefix(msg.Channel, ChannelPrefix)
	}
	b.local.Publish(env.Event)
}
