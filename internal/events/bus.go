package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	interactiondomain "github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	"github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	"github.com/smallbiznis/loyaltyrail/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	KindNewInteraction    = "new_interaction"
	KindNewPendingRewards = "new_pending_rewards"
)

// NewInteraction is emitted after an interaction row has been written.
type NewInteraction struct {
	Type          interactiondomain.Type `json:"type"`
	MerchantID    snowflake.ID           `json:"merchant_id"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewPendingRewards is emitted after the calculator created Count rewards.
type NewPendingRewards struct {
	Count         int    `json:"count"`
	CorrelationID string `json:"correlation_id"`
}

// Publisher is what producers depend on. Events only shorten the wait for the
// next scheduled run; the rows they describe are the record of work.
type Publisher interface {
	PublishNewInteraction(ctx context.Context, evt NewInteraction)
	PublishNewPendingRewards(ctx context.Context, evt NewPendingRewards)
}

type handler[T any] struct {
	id uint64
	fn func(context.Context, T)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Bus dispatches events synchronously to the handlers registered at publish
// time, in registration order.
type Bus struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu                  sync.RWMutex
	nextID              uint64
	interactionHandlers []handler[NewInteraction]
	pendingHandlers     []handler[NewPendingRewards]
}

func NewBus(p Params) *Bus {
	return &Bus{
		log:     p.Log.Named("events.bus"),
		metrics: p.Metrics,
	}
}

// OnNewInteraction registers h and returns a function that removes it.
func (b *Bus) OnNewInteraction(h func(context.Context, NewInteraction)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.interactionHandlers = append(b.interactionHandlers, handler[NewInteraction]{id: id, fn: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.interactionHandlers = remove(b.interactionHandlers, id)
	}
}

// OnNewPendingRewards registers h and returns a function that removes it.
func (b *Bus) OnNewPendingRewards(h func(context.Context, NewPendingRewards)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.pendingHandlers = append(b.pendingHandlers, handler[NewPendingRewards]{id: id, fn: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.pendingHandlers = remove(b.pendingHandlers, id)
	}
}

func (b *Bus) PublishNewInteraction(ctx context.Context, evt NewInteraction) {
	ctx, cid := correlation.EnsureCorrelationID(ctxOrBackground(ctx))
	if evt.CorrelationID == "" {
		evt.CorrelationID = cid
	}
	b.mu.RLock()
	handlers := append([]handler[NewInteraction](nil), b.interactionHandlers...)
	b.mu.RUnlock()

	b.metrics.RecordEventPublished(ctx, KindNewInteraction)
	for _, h := range handlers {
		dispatch(ctx, b.log, KindNewInteraction, evt.CorrelationID, h.fn, evt)
	}
}

func (b *Bus) PublishNewPendingRewards(ctx context.Context, evt NewPendingRewards) {
	ctx, cid := correlation.EnsureCorrelationID(ctxOrBackground(ctx))
	if evt.CorrelationID == "" {
		evt.CorrelationID = cid
	}
	b.mu.RLock()
	handlers := append([]handler[NewPendingRewards](nil), b.pendingHandlers...)
	b.mu.RUnlock()

	b.metrics.RecordEventPublished(ctx, KindNewPendingRewards)
	for _, h := range handlers {
		dispatch(ctx, b.log, KindNewPendingRewards, evt.CorrelationID, h.fn, evt)
	}
}

func dispatch[T any](ctx context.Context, log *zap.Logger, kind, cid string, fn func(context.Context, T), evt T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("events.handler.panic",
				zap.String("event", kind),
				zap.String("correlation_id", cid),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
		}
	}()
	fn(ctx, evt)
}

func remove[T any](handlers []handler[T], id uint64) []handler[T] {
	out := handlers[:0:0]
	for _, h := range handlers {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}

func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
