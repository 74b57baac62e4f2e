// Package debounce buffers rapid messages per key and releases them as one
// aggregated message once the key has been quiet for a fixed period.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultQuietPeriod  = 10 * time.Second
	defaultStoreTimeout = 5 * time.Second
	shutdownPoll        = 25 * time.Millisecond
)

var (
	ErrEmptyKey        = errors.New("debounce: key is required")
	ErrDrainInProgress = errors.New("debounce: drain already in progress for key")
	ErrClosed          = errors.New("debounce: coordinator is shut down")
)

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	QuietPeriod  time.Duration
	StoreTimeout time.Duration
	Clock        Clock
	Logger       *zap.Logger
}

// keyState is the in-process bookkeeping for one buffer key.
// All fields are guarded by Coordinator.mu.
type keyState struct {
	timer     Timer
	gen       uint64
	inFlight  bool
	appending int
	// appendErr marks the buffering cycle as failed until the last
	// outstanding append for it returns.
	appendErr error

	// waiters belong to the cycle that is currently buffering.
	waiters []*waiter

	// next and backlog collect callers (and their messages) that arrived while
	// a drain was running; they are replayed into a fresh cycle afterwards.
	next    []*waiter
	backlog []string
}

func (s *keyState) idle() bool {
	return s.timer == nil && !s.inFlight && s.appending == 0 &&
		len(s.waiters) == 0 && len(s.next) == 0 && len(s.backlog) == 0
}

// Coordinator owns per-key timers, in-flight flags and waiter registries.
// Buffer content lives in the Store; everything else is process-local, so
// at most one drain per key is only guaranteed within a single process.
type Coordinator struct {
	store        Store
	quiet        time.Duration
	storeTimeout time.Duration
	clock        Clock
	log          *zap.Logger

	mu     sync.Mutex
	keys   map[string]*keyState
	closed bool
}

// New creates a Coordinator backed by store.
func New(store Store, opts Options) *Coordinator {
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		store:        store,
		quiet:        opts.QuietPeriod,
		storeTimeout: opts.StoreTimeout,
		clock:        opts.Clock,
		log:          opts.Logger,
		keys:         make(map[string]*keyState),
	}
}

// QuietPeriod returns the configured debounce window.
func (c *Coordinator) QuietPeriod() time.Duration {
	return c.quiet
}

// Submit buffers message under key and blocks until the cycle it joined
// completes. Every call is resolved exactly once. Store failures are reported
// as a Result with ShouldProceed=false, never as an error; the returned error
// is only non-nil for an empty key, a closed coordinator, or ctx expiring
// before the cycle resolves. A caller that gives up is skipped when the
// cycle's leader is picked.
func (c *Coordinator) Submit(ctx context.Context, key, message string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	w := newWaiter()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, ErrClosed
	}
	st := c.stateLocked(key)
	if st.inFlight {
		st.next = append(st.next, w)
		st.backlog = append(st.backlog, message)
		c.mu.Unlock()
		c.log.Info("Drain in flight, message queued for next cycle",
			zap.String("buffer_key", key),
			zap.String("message", preview(message, 50)))
		return c.wait(ctx, w)
	}
	st.waiters = append(st.waiters, w)
	st.appending++
	c.mu.Unlock()

	// The append completes before any timer manipulation; a drain cannot
	// start for this key while appending is non-zero.
	err := c.append(context.WithoutCancel(ctx), key, message)

	c.mu.Lock()
	st.appending--
	if c.keys[key] != st {
		// CancelTimeout discarded this state while the append was running.
		c.mu.Unlock()
		c.log.Warn("Key state reset during append, waiter abandoned", zap.String("buffer_key", key))
		return c.wait(ctx, w)
	}
	if err != nil && st.appendErr == nil {
		st.appendErr = err
	}
	if st.appendErr != nil {
		// The cycle failed: no timer may run for it, and it is reset only
		// once every append that joined it has returned.
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
			st.gen++
		}
		if st.appending > 0 {
			c.mu.Unlock()
			return c.wait(ctx, w)
		}
		failErr := st.appendErr
		st.appendErr = nil
		waiters := st.waiters
		st.waiters = nil
		st.inFlight = true
		c.mu.Unlock()

		c.log.Error("Failed to append message to buffer",
			zap.String("buffer_key", key),
			zap.Int("waiters", len(waiters)),
			zap.Error(failErr))
		c.discard(key)
		c.finishCycle(key, st)
		resolve(waiters, Result{ShouldProceed: false})
		return c.wait(ctx, w)
	}
	c.armLocked(key, st)
	c.mu.Unlock()

	c.log.Debug("Started message aggregation timer",
		zap.String("buffer_key", key),
		zap.Duration("quiet_period", c.quiet),
		zap.String("message", preview(message, 50)))

	return c.wait(ctx, w)
}

// ForceDrain drains key immediately, bypassing the quiet period, and returns
// the result to the caller instead of the waiter registry. Waiters already
// registered for the key stay registered and are resolved by a later cycle.
func (c *Coordinator) ForceDrain(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}

	c.mu.Lock()
	st := c.stateLocked(key)
	if st.inFlight || st.appending > 0 {
		c.mu.Unlock()
		return Result{}, ErrDrainInProgress
	}
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
		st.gen++
	}
	st.inFlight = true
	c.mu.Unlock()

	res, err := c.drain(ctx, key)
	c.finishCycle(key, st)
	if err != nil {
		return Result{ShouldProceed: false}, err
	}

	c.log.Info("Forced drain completed",
		zap.String("buffer_key", key),
		zap.Bool("should_proceed", res.ShouldProceed))
	return res, nil
}

// CancelTimeout stops the timer for key and forgets its in-flight state
// without resolving any waiters. Waiters registered for key are abandoned,
// so this is meant for tests and manual cleanup only. It reports whether
// the key had any state.
func (c *Coordinator) CancelTimeout(key string) bool {
	c.mu.Lock()
	st, ok := c.keys[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	abandoned := len(st.waiters) + len(st.next)
	delete(c.keys, key)
	c.mu.Unlock()

	c.log.Info("Timeout cancelled for key",
		zap.String("buffer_key", key),
		zap.Int("abandoned_waiters", abandoned))
	return true
}

// ListActive returns every key with a live timer or a drain in progress,
// sorted by key.
func (c *Coordinator) ListActive() []ActiveKey {
	c.mu.Lock()
	active := make([]ActiveKey, 0, len(c.keys))
	for key, st := range c.keys {
		if st.timer != nil || st.inFlight {
			active = append(active, ActiveKey{Key: key, InFlight: st.inFlight})
		}
	}
	c.mu.Unlock()

	sort.Slice(active, func(i, j int) bool { return active[i].Key < active[j].Key })
	return active
}

// Shutdown stops accepting new submissions, fires every pending timer
// immediately and waits until no key is buffering or draining.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	var due []func()
	for key, st := range c.keys {
		if st.timer == nil || st.inFlight || st.appending > 0 {
			continue
		}
		if st.timer.Stop() {
			key, st, gen := key, st, st.gen
			due = append(due, func() { c.expire(key, st, gen) })
		}
	}
	c.mu.Unlock()

	c.log.Info("Flushing pending aggregation cycles", zap.Int("keys", len(due)))
	for _, fire := range due {
		go fire()
	}

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()
	for {
		if c.pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, st := range c.keys {
		if st.timer != nil || st.inFlight || st.appending > 0 {
			n++
		}
	}
	return n
}

func (c *Coordinator) stateLocked(key string) *keyState {
	st, ok := c.keys[key]
	if !ok {
		st = &keyState{}
		c.keys[key] = st
	}
	return st
}

// releaseLocked forgets key once nothing references its state.
func (c *Coordinator) releaseLocked(key string, st *keyState) {
	if st.idle() && c.keys[key] == st {
		delete(c.keys, key)
	}
}

// armLocked replaces any live timer for key with a fresh one.
func (c *Coordinator) armLocked(key string, st *keyState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	delay := c.quiet
	if c.closed {
		delay = 0
	}
	st.timer = c.clock.AfterFunc(delay, func() { c.expire(key, st, gen) })
}

// expire runs when a timer fires. Stale timers (replaced, cancelled or
// superseded by an append still in progress) are ignored.
func (c *Coordinator) expire(key string, st *keyState, gen uint64) {
	c.mu.Lock()
	if c.keys[key] != st || st.gen != gen || st.timer == nil || st.inFlight || st.appending > 0 {
		c.mu.Unlock()
		return
	}
	st.timer = nil
	st.inFlight = true
	waiters := st.waiters
	st.waiters = nil
	c.mu.Unlock()

	c.log.Info("Timeout reached, processing aggregated messages",
		zap.String("buffer_key", key),
		zap.Int("waiters", len(waiters)),
		zap.Duration("quiet_period", c.quiet))

	res, err := c.drain(context.Background(), key)
	if err != nil {
		c.log.Error("Error processing message timeout",
			zap.String("buffer_key", key),
			zap.Error(err))
		res = Result{ShouldProceed: false}
	}
	resolve(waiters, res)
	c.finishCycle(key, st)
}

// drain reads the whole buffer, joins it and deletes the key.
func (c *Coordinator) drain(ctx context.Context, key string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	messages, err := c.store.ReadRange(ctx, key, 0, -1)
	if err != nil {
		return Result{}, fmt.Errorf("read buffer %s: %w", key, err)
	}
	if len(messages) == 0 {
		c.log.Warn("No messages found in buffer", zap.String("buffer_key", key))
		return Result{ShouldProceed: false}, nil
	}

	aggregated := strings.Join(messages, "\n")
	if err := c.store.Delete(ctx, key); err != nil {
		return Result{}, fmt.Errorf("delete buffer %s: %w", key, err)
	}

	c.log.Info("Message aggregation completed",
		zap.String("buffer_key", key),
		zap.Int("total_messages", len(messages)),
		zap.Int("aggregated_length", len(aggregated)))

	return Result{ShouldProceed: true, AggregatedMessage: aggregated}, nil
}

// finishCycle clears the in-flight flag. Messages that arrived during the
// drain are appended in arrival order before the flag is cleared, and their
// callers become the waiters of a fresh cycle.
func (c *Coordinator) finishCycle(key string, st *keyState) {
	for {
		c.mu.Lock()
		if c.keys[key] != st {
			c.mu.Unlock()
			return
		}
		if len(st.backlog) == 0 {
			st.inFlight = false
			st.waiters = append(st.waiters, st.next...)
			st.next = nil
			if len(st.waiters) > 0 {
				c.armLocked(key, st)
			}
			c.releaseLocked(key, st)
			c.mu.Unlock()
			return
		}
		backlog := st.backlog
		st.backlog = nil
		c.mu.Unlock()

		for _, msg := range backlog {
			if err := c.append(context.Background(), key, msg); err != nil {
				c.failNext(key, st, err)
				return
			}
		}
	}
}

// failNext resolves the callers parked during a drain after their messages
// could not be written to the store.
func (c *Coordinator) failNext(key string, st *keyState, err error) {
	c.mu.Lock()
	if c.keys[key] != st {
		c.mu.Unlock()
		return
	}
	waiters := append(st.waiters, st.next...)
	st.waiters = nil
	st.next = nil
	st.backlog = nil
	st.inFlight = false
	c.releaseLocked(key, st)
	c.mu.Unlock()

	c.log.Error("Failed to replay queued messages",
		zap.String("buffer_key", key),
		zap.Int("waiters", len(waiters)),
		zap.Error(err))
	resolve(waiters, Result{ShouldProceed: false})
}

func (c *Coordinator) append(ctx context.Context, key, message string) error {
	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	if err := c.store.Append(ctx, key, message); err != nil {
		return fmt.Errorf("append to buffer %s: %w", key, err)
	}
	return nil
}

// discard removes whatever a failed cycle left in the buffer. The store may
// well be unavailable at this point, so a failure is only logged.
func (c *Coordinator) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.storeTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, key); err != nil {
		c.log.Warn("Failed to clear buffer of failed cycle",
			zap.String("buffer_key", key),
			zap.Error(err))
	}
}

const (
	waiterPending int32 = iota
	waiterResolved
	waiterGone
)

// waiter is one Submit caller. state moves once, from pending to either
// resolved (by resolve) or gone (the caller's ctx ended first).
type waiter struct {
	ch    chan Result
	state atomic.Int32
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan Result, 1)}
}

func (c *Coordinator) wait(ctx context.Context, w *waiter) (Result, error) {
	select {
	case res := <-w.ch:
		return res, nil
	case <-ctx.Done():
		if w.state.CompareAndSwap(waiterPending, waiterGone) {
			return Result{}, ctx.Err()
		}
		// resolve claimed this waiter first; its result may carry Leader.
		return <-w.ch, nil
	}
}

// resolve never blocks: every waiter channel has capacity one and is
// written at most once. On a successful cycle the most recent waiter whose
// caller is still listening becomes the leader.
func resolve(waiters []*waiter, res Result) {
	led := !res.ShouldProceed
	for i := len(waiters) - 1; i >= 0; i-- {
		w := waiters[i]
		if !w.state.CompareAndSwap(waiterPending, waiterResolved) {
			continue
		}
		r := res
		if !led {
			r.Leader = true
			led = true
		}
		w.ch <- r
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
