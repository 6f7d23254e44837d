// Package bus provides the signal bus: a many-to-many publish/subscribe
// router with hierarchical wildcard matching and isolated handler failures.
//
// Signal names are colon-delimited ("tts:request:start"). A subscription
// pattern is either an exact name, the global wildcard "*", or a namespace
// wildcard such as "tts:*" matching the namespace and everything below it.
//
// Handler failures never reach the publisher or sibling handlers. After all
// handlers for a publish have run, failures are aggregated into a single
// notice delivered to registered error observers; observer failures are
// swallowed with only a log line.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"
)

// ErrNilHandler indicates Subscribe or OnError was called with a nil handler.
var ErrNilHandler = errors.New("handler cannot be nil")

// HandlerFunc reacts to a published signal. The signal argument is the
// published name, which may be more specific than the subscribed pattern.
// Returning an error or panicking marks the delivery failed without
// affecting other handlers.
type HandlerFunc func(ctx context.Context, payload any, signal string) error

// HandlerError pairs a failed delivery with the subscription pattern.
type HandlerError struct {
	Pattern string
	Err     error
}

// ErrorNotice aggregates all handler failures from one publish.
type ErrorNotice struct {
	Signal string
	Errors []HandlerError
}

// ErrorObserver receives aggregated handler failures.
type ErrorObserver func(notice ErrorNotice)

// handlerKey identifies a handler instance. Func values are not comparable,
// so the key is the address of the runtime funcval the value points at.
// Distinct closures built from the same literal carry distinct funcvals,
// while the same func value subscribed under several patterns shares one.
// The bus holds a reference to the handler for the life of the
// subscription, so the address stays valid as a map key.
func handlerKey(fn HandlerFunc) uintptr {
	return uintptr(*(*unsafe.Pointer)(unsafe.Pointer(&fn)))
}

// PublishResult summarizes one publish.
type PublishResult struct {
	// Handled counts handlers that completed without error.
	Handled int
	// Failed counts handlers that returned an error or panicked.
	Failed int
}

// Record is one entry in the recent-signal history.
type Record struct {
	Signal  string
	Payload any
	At      time.Time
}

// DefaultHistorySize bounds the recent-signal history.
const DefaultHistorySize = 100

// Subscription is an active pattern subscription.
type Subscription struct {
	id      int
	pattern pattern
	handler HandlerFunc
	// key identifies the handler instance so a handler matched through
	// several patterns still runs at most once per publish.
	key uintptr

	bus  *Bus
	once sync.Once
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.id)
	})
}

// Pattern returns the pattern this subscription was created with.
func (s *Subscription) Pattern() string {
	return s.pattern.raw
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for observer failures and internal
// warnings. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHistorySize overrides the recent-signal history cap.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// Bus is an in-memory signal router. All methods are safe for concurrent
// use.
type Bus struct {
	mu         sync.RWMutex
	subs       []*Subscription // registration order
	observers  map[int]ErrorObserver
	history    []Record
	historyCap int
	nextID     int
	logger     *slog.Logger
}

// New creates a signal bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		observers:  make(map[int]ErrorObserver),
		historyCap: DefaultHistorySize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for every signal matching the pattern.
// The returned subscription's Unsubscribe removes it.
func (b *Bus) Subscribe(pat string, handler HandlerFunc) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %q: %w", pat, ErrNilHandler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		pattern: parsePattern(pat),
		handler: handler,
		key:     handlerKey(handler),
		bus:     b,
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Unsubscribe removes every subscription for the pattern/handler pair.
// Returns the number of subscriptions removed. The handler must be the same
// func value that was subscribed; a fresh closure, even from the same
// literal, is a different instance.
func (b *Bus) Unsubscribe(pat string, handler HandlerFunc) int {
	if handler == nil {
		return 0
	}
	key := handlerKey(handler)

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[:0]
	removed := 0
	for _, sub := range b.subs {
		if sub.pattern.raw == pat && sub.key == key {
			removed++
			continue
		}
		kept = append(kept, sub)
	}
	b.subs = kept
	return removed
}

// OnError registers an observer for aggregated handler failures.
// The returned function removes the observer.
func (b *Bus) OnError(observer ErrorObserver) (func(), error) {
	if observer == nil {
		return nil, fmt.Errorf("error observer: %w", ErrNilHandler)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers[id] = observer
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers, id)
	}, nil
}

// Publish delivers the signal to every matching handler concurrently and
// waits for all of them to finish or fail before returning.
func (b *Bus) Publish(ctx context.Context, signal string, payload any) PublishResult {
	matched := b.prepare(signal, payload)
	if len(matched) == 0 {
		return PublishResult{}
	}

	errs := make([]HandlerError, len(matched))
	var wg sync.WaitGroup
	for i, sub := range matched {
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			if err := b.deliver(ctx, sub, signal, payload); err != nil {
				errs[i] = HandlerError{Pattern: sub.pattern.raw, Err: err}
			}
		}(i, sub)
	}
	wg.Wait()

	return b.finish(signal, errs)
}

// PublishSync delivers the signal to every matching handler sequentially in
// strict registration order, blocking the caller until all have run.
// Matching and isolation semantics are identical to Publish.
func (b *Bus) PublishSync(ctx context.Context, signal string, payload any) PublishResult {
	matched := b.prepare(signal, payload)
	if len(matched) == 0 {
		return PublishResult{}
	}

	errs := make([]HandlerError, len(matched))
	for i, sub := range matched {
		if err := b.deliver(ctx, sub, signal, payload); err != nil {
			errs[i] = HandlerError{Pattern: sub.pattern.raw, Err: err}
		}
	}

	return b.finish(signal, errs)
}

// prepare records history and snapshots the matching subscriptions in
// registration order, deduplicated by handler instance.
func (b *Bus) prepare(signal string, payload any) []*Subscription {
	segments := splitSignal(signal)

	b.mu.Lock()
	b.history = append(b.history, Record{Signal: signal, Payload: payload, At: time.Now()})
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}

	var matched []*Subscription
	seen := make(map[uintptr]bool)
	for _, sub := range b.subs {
		if !sub.pattern.matches(segments) {
			continue
		}
		if seen[sub.key] {
			continue
		}
		seen[sub.key] = true
		matched = append(matched, sub)
	}
	b.mu.Unlock()

	return matched
}

// deliver invokes one handler with panic isolation.
func (b *Bus) deliver(ctx context.Context, sub *Subscription, signal string, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, payload, signal)
}

// finish tallies the result and notifies error observers when any handler
// failed. Observer panics are logged and swallowed.
func (b *Bus) finish(signal string, errs []HandlerError) PublishResult {
	result := PublishResult{}
	var failed []HandlerError
	for _, he := range errs {
		if he.Err != nil {
			failed = append(failed, he)
			result.Failed++
		} else {
			result.Handled++
		}
	}

	if len(failed) == 0 {
		return result
	}

	notice := ErrorNotice{Signal: signal, Errors: failed}

	b.mu.RLock()
	observers := make([]ErrorObserver, 0, len(b.observers))
	for _, obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		b.notify(obs, notice)
	}
	return result
}

func (b *Bus) notify(obs ErrorObserver, notice ErrorNotice) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("signal error observer panicked",
				slog.String("signal", notice.Signal),
				slog.Any("panic", r),
			)
		}
	}()
	obs(notice)
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subs[:0]
	for _, sub := range b.subs {
		if sub.id == id {
			continue
		}
		kept = append(kept, sub)
	}
	b.subs = kept
}

// SubscriberCount returns the number of active subscriptions. With a
// pattern argument it counts only subscriptions registered for exactly that
// pattern.
func (b *Bus) SubscriberCount(pat ...string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(pat) == 0 {
		return len(b.subs)
	}
	count := 0
	for _, sub := range b.subs {
		if sub.pattern.raw == pat[0] {
			count++
		}
	}
	return count
}

// SignalNames returns the distinct signal names present in the history,
// oldest first.
func (b *Bus) SignalNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, rec := range b.history {
		if !seen[rec.Signal] {
			seen[rec.Signal] = true
			names = append(names, rec.Signal)
		}
	}
	return names
}

// History returns the recorded publishes for an exact signal name, oldest
// first. History is diagnostic only and has no effect on matching.
func (b *Bus) History(signal string) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Record
	for _, rec := range b.history {
		if rec.Signal == signal {
			out = append(out, rec)
		}
	}
	return out
}

// Clear removes all subscriptions, error observers, and history.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = nil
	b.observers = make(map[int]ErrorObserver)
	b.history = nil
}
