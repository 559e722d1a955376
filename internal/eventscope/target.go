package eventscope

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/rmacdonaldsmith/livesync-go/pkg/liveevent"
)

const (
	// DefaultOrderWindow is how long a target remembers a sender's newest timestamp
	DefaultOrderWindow = 5 * time.Minute
	// DefaultOrderCapacity bounds the number of senders tracked for logical ordering
	DefaultOrderCapacity = 4096
)

// Receiver is invoked for every event an EventTarget accepts.
type Receiver[T any] func(evt liveevent.LiveEvent[T], local bool)

// TargetOption configures an EventTarget
type TargetOption func(*targetOptions)

type targetOptions struct {
	logicalOrder bool
	window       time.Duration
	capacity     uint64
}

// WithLogicalOrder drops remote events whose timestamp is older than the newest one
// already delivered from the same sender. Senders are forgotten after window of silence.
func WithLogicalOrder(window time.Duration) TargetOption {
	return func(o *targetOptions) {
		o.logicalOrder = true
		if window > 0 {
			o.window = window
		}
	}
}

// EventTarget receives one named event of payload type T from a scope.
type EventTarget[T any] struct {
	scope    *Scope
	sub      Subscription
	receiver Receiver[T]

	// newest delivered timestamp per sender; nil in arrival-order mode
	lastSeen *ttlcache.Cache[string, int64]

	mu       sync.Mutex
	disposed bool
}

// NewEventTarget subscribes receiver to eventName on scope.
func NewEventTarget[T any](scope *Scope, eventName string, receiver Receiver[T], opts ...TargetOption) *EventTarget[T] {
	o := targetOptions{window: DefaultOrderWindow, capacity: DefaultOrderCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	t := &EventTarget[T]{scope: scope, receiver: receiver}
	if o.logicalOrder {
		t.lastSeen = ttlcache.New[string, int64](
			ttlcache.WithTTL[string, int64](o.window),
			ttlcache.WithCapacity[string, int64](o.capacity),
		)
	}
	t.sub = scope.OnEvent(eventName, t.handle)
	return t
}

// EventName returns the bound event name.
func (t *EventTarget[T]) EventName() string {
	return t.sub.EventName()
}

// Dispose unsubscribes the target. Safe to call more than once.
func (t *EventTarget[T]) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	t.disposed = true
	t.scope.OffEvent(t.sub)
	if t.lastSeen != nil {
		t.lastSeen.DeleteAll()
	}
}

func (t *EventTarget[T]) handle(raw liveevent.RawEvent, local bool) {
	// Emission snapshots listeners, so a disposed target can still be called once
	if t.isDisposed() {
		return
	}
	if !local && !t.accept(raw) {
		t.scope.Logger().Debug("dropping out-of-order event",
			"event", raw.Name, "client_id", raw.ClientID, "timestamp", raw.Timestamp)
		return
	}

	evt, err := liveevent.Decode[T](raw)
	if err != nil {
		t.scope.Logger().Warn("dropping undecodable event", "event", raw.Name, "client_id", raw.ClientID, "error", err)
		return
	}
	t.receiver(evt, local)
}

func (t *EventTarget[T]) isDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// accept records the event's timestamp and reports whether it is not older than the
// newest already delivered from its sender.
func (t *EventTarget[T]) accept(raw liveevent.RawEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return false
	}
	if t.lastSeen == nil {
		return true
	}
	if item := t.lastSeen.Get(raw.ClientID); item != nil && raw.Timestamp < item.Value() {
		return false
	}
	t.lastSeen.Set(raw.ClientID, raw.Timestamp, ttlcache.DefaultTTL)
	return true
}
