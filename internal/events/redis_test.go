package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deep-research/internal/model"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "research:events:abc", Channel("abc"))
}

func TestRedisBridge_RelaysBetweenReplicas(t *testing.T) {
	client := newRedis(t)

	localA, localB := NewRegistry(), NewRegistry()
	bridgeA := NewRedisBridge(client, localA)
	bridgeB := NewRedisBridge(client, localB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bridgeB.Run(ctx) }()

	subB := localB.Subscribe("run-9", 8)
	defer subB.Close()
	subA := localA.Subscribe("run-9", 8)
	defer subA.Close()

	// Wait for the PSUBSCRIBE to be registered.
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumPat(context.Background()).Result()
		return err == nil && n > 0
	}, 2*time.Second, 10*time.Millisecond)

	bridgeA.Publish(model.Event{Type: model.EventPhaseComplete, ResearchID: "run-9", Phase: 2, Message: "Phase 2 완료"})

	assert.Equal(t, "Phase 2 완료", recv(t, subA).Message)
	got := recv(t, subB)
	assert.Equal(t, model.EventPhaseComplete, got.Type)
	assert.Equal(t, 2, got.Phase)
}

func TestRedisBridge_SkipsOwnEvents(t *testing.T) {
	client := newRedis(t)
	local := NewRegistry()
	bridge := NewRedisBridge(client, local)
	sub := local.Subscribe("run", 4)
	defer sub.Close()

	payload, err := json.Marshal(envelope{Origin: bridge.origin, Event: model.Event{ResearchID: "run", Message: "mine"}})
	require.NoError(t, err)
	bridge.relay(&redis.Message{Channel: Channel("run"), Payload: string(payload)})

	payload, err = json.Marshal(envelope{Origin: "other", Event: model.Event{Message: "theirs"}})
	require.NoError(t, err)
	bridge.relay(&redis.Message{Channel: Channel("run"), Payload: string(payload)})

	ev := recv(t, sub)
	assert.Equal(t, "theirs", ev.Message)
	assert.Equal(t, "run", ev.ResearchID, "research id recovered from channel")

	bridge.relay(&redis.Message{Channel: Channel("run"), Payload: "not json"})
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestRedisBridge_PublishSurvivesRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close() //nolint:errcheck
	mr.Close()

	local := NewRegistry()
	sub := local.Subscribe("run", 1)
	defer sub.Close()

	NewRedisBridge(client, local).Publish(model.Event{ResearchID: "run", Message: "still local"})
	assert.Equal(t, "still local", recv(t, sub).Message)
}
