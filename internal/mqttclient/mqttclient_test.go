package mqttclient

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/model"
	"github.com/yourorg/traffic-bridge/internal/worker"
)

type sent struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	msgs  []sent
	err   error
	block chan struct{}
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{topic, qos, retained, payload})
	return f.err
}

func newPublisher(t *testing.T, fp *fakePublisher, base string) *EventPublisher {
	t.Helper()
	p := NewEventPublisher(fp, base, logger.NewNopLogger())
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestEventPublisher_Topic(t *testing.T) {
	assert.Equal(t, "traffic/webhook", newPublisher(t, &fakePublisher{}, "").Topic())
	assert.Equal(t, "city/ponce/webhook", newPublisher(t, &fakePublisher{}, "/city/ponce/").Topic())
}

func TestEventPublisher_PublishEvent(t *testing.T) {
	fp := &fakePublisher{}
	p := NewEventPublisher(fp, "traffic", logger.NewNopLogger())

	block := "Ponce de Leon"
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, p.PublishEvent(model.NewEvent(model.Snapshot{BlockName: &block, TotalVehicles: 6}, at, "/images/1.png")))
	require.NoError(t, p.Close(context.Background()))

	require.Len(t, fp.msgs, 1)
	msg := fp.msgs[0]
	assert.Equal(t, "traffic/webhook", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "Ponce de Leon", got["block_name"])
	assert.Equal(t, float64(6), got["total_vehicles"])
	assert.Equal(t, "/images/1.png", got["image_url"])
	assert.Equal(t, "2024-01-02T03:04:05Z", got["received_at"])
	assert.NotContains(t, got, "data_start")
}

func TestEventPublisher_BrokerErrorsDoNotReachCaller(t *testing.T) {
	fp := &fakePublisher{err: ErrPublishTimeout}
	p := NewEventPublisher(fp, "t", logger.NewNopLogger())

	assert.NoError(t, p.PublishEvent(model.Event{}))
	require.NoError(t, p.Close(context.Background()))
	assert.Len(t, fp.msgs, 1)
}

func TestEventPublisher_SlowBrokerDoesNotBlock(t *testing.T) {
	fp := &fakePublisher{block: make(chan struct{})}
	p := NewEventPublisher(fp, "traffic", logger.NewNopLogger())

	begin := time.Now()
	var err error
	for i := 0; i < eventQueueSize+2 && err == nil; i++ {
		err = p.PublishEvent(model.Event{TotalVehicles: int64(i)})
	}
	assert.Less(t, time.Since(begin), time.Second)
	assert.ErrorIs(t, err, worker.ErrQueueFull)
	assert.Contains(t, err.Error(), "traffic/webhook")

	close(fp.block)
	require.NoError(t, p.Close(context.Background()))
	assert.ErrorIs(t, p.PublishEvent(model.Event{}), worker.ErrClosed)
}
