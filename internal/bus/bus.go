package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/lojahub/lojasync/internal/common/cnst"
	"github.com/lojahub/lojasync/internal/common/config"
	"github.com/lojahub/lojasync/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one bus notification.
type Event struct {
	Name    string          `json:"name"`
	Table   string          `json:"table,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Origin identifies the publishing process so a bridge replay is not
	// echoed back onto the stream it came from.
	Origin string `json:"origin,omitempty"`
}

// RefreshData builds the "table changed, reload it" event.
func RefreshData(table string) Event {
	return Event{Name: cnst.EventRefreshData, Table: table}
}

// SyncStatus builds the reconciliation-outcome event.
func SyncStatus(payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{}`)
	}
	return Event{Name: cnst.EventSyncStatus, Payload: data}
}

// Handler receives every event published after Subscribe.
type Handler func(Event)

type subscriber struct {
	id      int
	handler Handler
}

// Bus is the in-process publish/subscribe fanout. Publishes are delivered
// in order through a FIFO drained by the publishing goroutine; the
// subscriber list is snapshotted before invoking handlers, so a handler
// may subscribe, unsubscribe or publish reentrantly.
type Bus struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	origin  string

	mu       sync.Mutex
	subs     map[int]Handler
	nextID   int
	queue    []Event
	draining bool

	bridge Bridge
	outbox chan Event
}

// New creates an in-process bus with no bridge.
func New(logger *zap.Logger, m *metrics.Metrics) *Bus {
	return &Bus{
		logger:  logger.Named("bus"),
		metrics: m,
		origin:  uuid.NewString(),
		subs:    make(map[int]Handler),
	}
}

// NewBus creates a bus based on configuration, attaching a redis bridge
// when one is configured.
func NewBus(ctx context.Context, logger *zap.Logger, cfg *config.BusConfig, m *metrics.Metrics) (*Bus, error) {
	b := New(logger, m)
	switch cfg.Type {
	case "", "memory":
		return b, nil
	case "redis":
		bridge, err := NewRedisBridge(logger, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.AttachBridge(ctx, bridge)
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cfg.Type)
	}
}

// Subscribe registers handler for every subsequent publish. Past events
// are never replayed. The returned function removes the subscription.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers evt to all current subscribers, preserving publish
// order. It is fire-and-forget: no error, no blocking on the bridge.
func (b *Bus) Publish(evt Event) {
	if evt.Origin == "" {
		evt.Origin = b.origin
	}
	b.metrics.BusEvent(evt.Name)

	b.mu.Lock()
	b.queue = append(b.queue, evt)
	if b.draining {
		// A handler published reentrantly; the outer drain picks it up.
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		handlers := b.snapshotLocked()
		b.mu.Unlock()

		for _, h := range handlers {
			h(next)
		}
		b.forward(next)

		b.mu.Lock()
	}
	b.draining = false
	b.mu.Unlock()
}

// snapshotLocked copies the subscriber list in subscription order.
func (b *Bus) snapshotLocked() []Handler {
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	return handlers
}

// AttachBridge mirrors local publishes onto the bridge and replays
// foreign events locally until ctx is done.
func (b *Bus) AttachBridge(ctx context.Context, bridge Bridge) {
	b.bridge = bridge
	b.outbox = make(chan Event, 128)

	if bridge.CanSend() {
		go b.forwardLoop(ctx)
	}
	if bridge.CanReceive() {
		go b.watchLoop(ctx)
	}
}

// forward hands a locally-originated event to the bridge forwarder.
func (b *Bus) forward(evt Event) {
	if b.bridge == nil || !b.bridge.CanSend() || evt.Origin != b.origin {
		return
	}
	select {
	case b.outbox <- evt:
	default:
		b.logger.Warn("bridge outbox full, dropping event",
			zap.String("event", evt.Name),
			zap.String("table", evt.Table))
	}
}

func (b *Bus) forwardLoop(ctx context.Context) {
	for {
		select {
		case evt := <-b.outbox:
			if err := b.bridge.NotifyUpdate(ctx, evt); err != nil {
				b.logger.Error("failed to forward event to bridge", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) watchLoop(ctx context.Context) {
	ch, err := b.bridge.Watch(ctx)
	if err != nil {
		b.logger.Error("failed to watch bridge", zap.Error(err))
		return
	}
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Origin == b.origin {
				continue
			}
			b.Publish(evt)
		case <-ctx.Done():
			return
		}
	}
}
