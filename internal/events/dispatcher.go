// Package events fans identification events out to session subscribers.
//
// Bin devices write waste_events documents; a per-bin Firestore snapshot
// listener turns those documents into IdentificationEvents and the Dispatcher
// delivers them to whichever sessions are watching the bin. Delivery is
// at-least-once: listener reconnects can replay documents and consumers must
// tolerate duplicates.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sortimate/api/internal/domain"
)

const defaultBufferSize = 16

// ErrInvalidSubscription is returned when Subscribe is called without a bin or user id.
var ErrInvalidSubscription = errors.New("events: bin id and user id are required")

// Watcher streams identification events for one bin until the context is
// cancelled. Implemented by the Firestore event repository.
type Watcher interface {
	Watch(ctx context.Context, binID string, since time.Time, fn func(domain.IdentificationEvent)) error
}

// Subscription is a live feed of identification events for one bin, held by
// one session. Unsubscribe is idempotent; the Events channel closes once the
// subscription is torn down.
type Subscription struct {
	BinID  string
	UserID string

	events chan domain.IdentificationEvent
	once   sync.Once
	cancel func()
}

// Events returns the channel identification events are delivered on.
func (s *Subscription) Events() <-chan domain.IdentificationEvent {
	return s.events
}

// Unsubscribe detaches the subscription. Safe to call multiple times and
// after the dispatcher has already dropped the subscriber.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

type binListener struct {
	cancel context.CancelFunc
}

// Dispatcher multiplexes per-bin event streams to session subscribers. The
// first subscriber for a bin starts its snapshot listener; the last one
// leaving stops it.
type Dispatcher struct {
	watcher Watcher
	logger  *zap.Logger
	clock   func() time.Time
	buffer  int

	mu        sync.Mutex
	subs      map[string]map[*Subscription]struct{}
	listeners map[string]*binListener
	closed    bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// DispatcherOption customises Dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock injects a custom clock, primarily for tests.
func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithBufferSize overrides the per-subscription channel buffer.
func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// NewDispatcher constructs a Dispatcher. A nil watcher disables the Firestore
// listener path; events then arrive only via Publish (simulation and tests).
func NewDispatcher(watcher Watcher, opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		watcher:    watcher,
		logger:     zap.NewNop(),
		clock:      time.Now,
		buffer:     defaultBufferSize,
		subs:       make(map[string]map[*Subscription]struct{}),
		listeners:  make(map[string]*binListener),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Subscribe registers a session for the identification feed of one bin.
func (d *Dispatcher) Subscribe(binID, userID string) (*Subscription, error) {
	binID = strings.TrimSpace(binID)
	userID = strings.TrimSpace(userID)
	if binID == "" || userID == "" {
		return nil, ErrInvalidSubscription
	}

	sub := &Subscription{
		BinID:  binID,
		UserID: userID,
		events: make(chan domain.IdentificationEvent, d.buffer),
	}
	sub.cancel = func() { d.drop(sub) }

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(sub.events)
		return nil, errors.New("events: dispatcher closed")
	}

	if d.subs[binID] == nil {
		d.subs[binID] = make(map[*Subscription]struct{})
	}
	d.subs[binID][sub] = struct{}{}

	d.ensureListenerLocked(binID)
	return sub, nil
}

// Publish delivers an event to every subscriber of its bin. Used by the
// Firestore listener and by the admin simulation shortcut. Slow consumers
// lose events rather than blocking the feed; the session re-reads Firestore
// state if it falls behind.
//
// The fan-out happens under d.mu: drop closes subscription channels while
// holding the same lock, so a send can never race the close. The sends are
// non-blocking, so holding the lock cannot stall on a full buffer.
func (d *Dispatcher) Publish(event domain.IdentificationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for sub := range d.subs[event.BinID] {
		select {
		case sub.events <- event:
		default:
			d.logger.Warn("dropping identification event for slow subscriber",
				zap.String("bin_id", event.BinID),
				zap.String("event_id", event.EventID),
				zap.String("subscriber", sub.UserID))
		}
	}
}

// Close tears down every subscription and listener.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var all []*Subscription
	for _, subs := range d.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	d.mu.Unlock()

	d.baseCancel()
	for _, sub := range all {
		sub.Unsubscribe()
	}
}

func (d *Dispatcher) drop(sub *Subscription) {
	d.mu.Lock()
	subs, ok := d.subs[sub.BinID]
	if ok {
		if _, registered := subs[sub]; registered {
			delete(subs, sub)
			close(sub.events)
		}
		if len(subs) == 0 {
			delete(d.subs, sub.BinID)
			if listener, ok := d.listeners[sub.BinID]; ok {
				listener.cancel()
				delete(d.listeners, sub.BinID)
			}
		}
	}
	d.mu.Unlock()
}

// ensureListenerLocked starts the snapshot listener for binID if it is not
// running. Caller holds d.mu.
func (d *Dispatcher) ensureListenerLocked(binID string) {
	if d.watcher == nil {
		return
	}
	if _, ok := d.listeners[binID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(d.baseCtx)
	d.listeners[binID] = &binListener{cancel: cancel}
	since := d.clock()

	go func() {
		err := d.watcher.Watch(ctx, binID, since, d.Publish)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("identification feed listener stopped",
				zap.String("bin_id", binID), zap.Error(err))
		}
	}()
}
