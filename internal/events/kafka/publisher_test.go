package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events"
	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// stalledWriter behaves like a writer whose broker never answers.
type stalledWriter struct {
	mu       sync.Mutex
	attempts int
	closed   bool
}

func (s *stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestPublisherWritesKeyedEvents(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, nil, time.Second)
	obs := p.Observer()

	obs.TableStarted("orders")
	obs.TableCompleted("orders", 2500)
	obs.RunFinished(types.TransferResult{Status: types.StatusSuccess, RowsTransferred: 2500})
	require.NoError(t, p.Close())

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "orders", string(w.msgs[0].Key))
	assert.Equal(t, events.TypeTableStarted, string(w.msgs[0].Headers[0].Value))

	var ev events.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, events.TypeTableCompleted, ev.Type)
	assert.EqualValues(t, 2500, ev.Transferred)

	require.NoError(t, json.Unmarshal(w.msgs[2].Value, &ev))
	require.NotNil(t, ev.Result)
	assert.Equal(t, types.StatusSuccess, ev.Result.Status)

	assert.True(t, w.closed)
}

func TestPublisherSwallowsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := newPublisher(w, nil, time.Second)

	assert.NotPanics(t, func() { p.Observer().TableFailed("orders", errors.New("boom")) })
	require.NoError(t, p.Close())
	assert.Empty(t, w.msgs)
}

func TestPublisherDoesNotStallTransfer(t *testing.T) {
	w := &stalledWriter{}
	p := newPublisher(w, nil, 200*time.Millisecond)
	obs := p.Observer()

	start := time.Now()
	for i := int64(1); i <= queueSize+50; i++ {
		obs.BatchCommitted("orders", i*1000, (queueSize+50)*1000)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond, "emitting must not wait on the broker")

	start = time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), 2*time.Second, "close gives up on a stalled broker")
	assert.True(t, w.closed)

	assert.NotPanics(t, func() { obs.TableStarted("orders") }, "emit after close is ignored")
	require.NoError(t, p.Close())
}

func TestNewUsesConfiguredTopic(t *testing.T) {
	p := New(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "db-transfer.events"}, nil)
	t.Cleanup(func() { _ = p.Close() })
	w, ok := p.w.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "db-transfer.events", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}
