package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/loyaltyrail/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const (
	mirrorPublishTimeout = 2 * time.Second
	mirrorQueueSize      = 256
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type mirrorMessage struct {
	routingKey string
	publishing amqp.Publishing
}

// Mirror republishes bus events to a RabbitMQ topic exchange for observers
// outside the process. Publishing is best-effort: events are handed to a
// single sender goroutine and dropped when its queue is full.
type Mirror struct {
	log      *zap.Logger
	exchange string
	queue    chan mirrorMessage
	done     chan struct{}
	dropped  atomic.Int64

	mu      sync.Mutex
	closed  bool
	conn    *amqp.Connection
	channel publishChannel
}

// DialMirror connects to url and declares exchange as a durable topic exchange.
func DialMirror(url, exchange string, log *zap.Logger) (*Mirror, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	m := newMirror(channel, exchange, log)
	m.conn = conn
	return m, nil
}

func newMirror(channel publishChannel, exchange string, log *zap.Logger) *Mirror {
	m := &Mirror{
		log:      log.Named("events.mirror"),
		exchange: exchange,
		queue:    make(chan mirrorMessage, mirrorQueueSize),
		done:     make(chan struct{}),
		channel:  channel,
	}
	go m.run()
	return m
}

// Attach subscribes the mirror to both event kinds and returns the detach func.
func (m *Mirror) Attach(bus *Bus) func() {
	offInteraction := bus.OnNewInteraction(func(ctx context.Context, evt NewInteraction) {
		m.publish(ctx, KindNewInteraction+"."+string(evt.Type), evt.CorrelationID, evt)
	})
	offPending := bus.OnNewPendingRewards(func(ctx context.Context, evt NewPendingRewards) {
		m.publish(ctx, KindNewPendingRewards, evt.CorrelationID, evt)
	})
	return func() {
		offInteraction()
		offPending()
	}
}

func (m *Mirror) publish(ctx context.Context, routingKey, cid string, evt any) {
	body, err := json.Marshal(evt)
	if err != nil {
		m.log.Warn("events.mirror.encode_failed", zap.String("routing_key", routingKey), zap.Error(err))
		return
	}

	headers := amqp.Table{}
	for k, v := range correlation.Headers(ctx) {
		headers[k] = v
	}
	msg := mirrorMessage{
		routingKey: routingKey,
		publishing: amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    cid,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         body,
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- msg:
	default:
		m.dropped.Add(1)
		m.log.Warn("events.mirror.dropped",
			zap.String("routing_key", routingKey),
			zap.String("correlation_id", cid),
		)
	}
}

func (m *Mirror) run() {
	defer close(m.done)
	for msg := range m.queue {
		m.send(msg)
	}
}

func (m *Mirror) send(msg mirrorMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorPublishTimeout)
	defer cancel()

	err := m.channel.PublishWithContext(ctx, m.exchange, msg.routingKey, false, false, msg.publishing)
	if err != nil {
		m.log.Warn("events.mirror.publish_failed",
			zap.String("routing_key", msg.routingKey),
			zap.String("correlation_id", msg.publishing.MessageId),
			zap.Error(err),
		)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (m *Mirror) Dropped() int64 {
	return m.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be sent until ctx
// expires, then closes the channel and connection.
func (m *Mirror) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	var err error
	select {
	case <-m.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cerr := m.channel.Close(); err == nil {
		err = cerr
	}
	if m.conn != nil {
		if cerr := m.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
