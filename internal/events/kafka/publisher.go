package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/alexanderjulianmartinez/db-transfer/internal/config"
	"github.com/alexanderjulianmartinez/db-transfer/internal/events"
	"github.com/alexanderjulianmartinez/db-transfer/internal/logging"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// queueSize bounds the events waiting for the broker. Beyond it new events
// are dropped.
const queueSize = 256

// Publisher writes transfer events to a Kafka topic, keyed by table name so
// one table's events stay on one partition. Emit only enqueues; a single
// goroutine writes in order. Delivery is best effort: a failed write is
// logged and never fails or slows the transfer.
type Publisher struct {
	w       messageWriter
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}

	// ctx is cancelled when Close gives up on flushing.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.KafkaConfig, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	return newPublisher(w, logger, 5*time.Second)
}

func newPublisher(w messageWriter, logger *zap.Logger, timeout time.Duration) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		w:       w,
		logger:  logging.OrNop(logger),
		timeout: timeout,
		queue:   make(chan kafka.Message, queueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.run()
	return p
}

// Observer returns the publisher as an events.Observer.
func (p *Publisher) Observer() events.Observer {
	return events.Recorder{Sink: p}
}

func (p *Publisher) run() {
	defer close(p.done)
	dropped := 0
	for msg := range p.queue {
		if p.ctx.Err() != nil {
			dropped++
			continue
		}
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		err := p.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.logger.Warn("publish event", zap.String("table", string(msg.Key)), zap.Error(err))
		}
	}
	if dropped > 0 {
		p.logger.Warn("events not published before close", zap.Int("dropped", dropped))
	}
}

func (p *Publisher) Emit(ev events.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.Table),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("event queue full, dropping event", zap.String("type", ev.Type), zap.String("table", ev.Table))
	}
}

// Close flushes queued events, waiting at most one write timeout before
// dropping the rest, then closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(p.timeout):
		p.cancel()
		<-p.done
	}
	p.cancel()
	return p.w.Close()
}
