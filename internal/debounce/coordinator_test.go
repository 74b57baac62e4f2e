package debounce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Duration
	f        func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock fires timers only when Advance moves time past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
	armed  int
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now + d, f: f}
	c.armed++
	if d <= 0 {
		t.fired = true
		go f()
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.deadline <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		go t.f()
	}
}

func (c *fakeClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

type memStore struct {
	mu    sync.Mutex
	lists map[string][]string

	failKey   string
	failValue string
	appendErr error

	// appendGate holds appends of gateValue until it is closed.
	appendGate chan struct{}
	gateValue  string
	readErr   error
	deleteErr error

	readGate   chan struct{}
	reading    int
	maxReading int
	reads      int
	deletes    int
}

func newMemStore() *memStore {
	return &memStore{lists: make(map[string][]string)}
}

func (s *memStore) fails(key string) bool {
	return s.failKey == "" || s.failKey == key
}

func (s *memStore) Append(_ context.Context, key, value string) error {
	s.mu.Lock()
	gate := s.appendGate
	gated := gate != nil && value == s.gateValue
	s.mu.Unlock()
	if gated {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil && s.fails(key) && (s.failValue == "" || s.failValue == value) {
		return s.appendErr
	}
	s.lists[key] = append(s.lists[key], value)
	return nil
}

func (s *memStore) ReadRange(_ context.Context, key string, start, end int64) ([]string, error) {
	s.mu.Lock()
	s.reads++
	s.reading++
	if s.reading > s.maxReading {
		s.maxReading = s.reading
	}
	gate := s.readGate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading--
	if s.readErr != nil && s.fails(key) {
		return nil, s.readErr
	}
	list := s.lists[key]
	if end < 0 || end >= int64(len(list)) {
		end = int64(len(list)) - 1
	}
	if start > end {
		return []string{}, nil
	}
	out := make([]string, end-start+1)
	copy(out, list[start:end+1])
	return out, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil && s.fails(key) {
		return s.deleteErr
	}
	s.deletes++
	delete(s.lists, key)
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lists[key]
	return ok
}

func (s *memStore) stats() (reads, deletes, maxReading int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.deletes, s.maxReading
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type submitOutcome struct {
	res Result
	err error
}

func submitAsync(c *Coordinator, key, msg string) <-chan submitOutcome {
	out := make(chan submitOutcome, 1)
	go func() {
		res, err := c.Submit(context.Background(), key, msg)
		out <- submitOutcome{res: res, err: err}
	}()
	return out
}

func waitArmed(t *testing.T, clk *fakeClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return clk.Armed() >= n }, time.Second, time.Millisecond,
		"expected %d timers to be armed", n)
}

func receive(t *testing.T, ch <-chan submitOutcome) submitOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("submit was not resolved")
		return submitOutcome{}
	}
}

func requirePending(t *testing.T, ch <-chan submitOutcome) {
	t.Helper()
	select {
	case out := <-ch:
		t.Fatalf("submit resolved early: %+v", out)
	case <-time.After(30 * time.Millisecond):
	}
}

func appending(c *Coordinator, key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.keys[key]; ok {
		return st.appending
	}
	return 0
}

func newTestCoordinator(store Store) (*Coordinator, *fakeClock) {
	clk := &fakeClock{}
	return New(store, Options{QuietPeriod: 10 * time.Second, Clock: clk}), clk
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestSubmit_SingleMessage(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	out := submitAsync(c, "u1", "x")
	waitArmed(t, clk, 1)
	require.True(t, store.has("u1"))

	clk.Advance(9 * time.Second)
	requirePending(t, out)

	clk.Advance(time.Second)
	got := receive(t, out)
	require.NoError(t, got.err)
	require.Equal(t, Result{ShouldProceed: true, AggregatedMessage: "x", Leader: true}, got.res)
	require.False(t, store.has("u1"), "buffer key must be deleted after drain")

	require.Eventually(t, func() bool { return len(c.ListActive()) == 0 }, time.Second, time.Millisecond)
}

func TestSubmit_TwoCallersShareResult(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	first := submitAsync(c, "u1", "hello")
	waitArmed(t, clk, 1)

	clk.Advance(2 * time.Second)
	second := submitAsync(c, "u1", "world")
	waitArmed(t, clk, 2)

	// 10s after the first message, but only 8s after the second.
	clk.Advance(8 * time.Second)
	requirePending(t, first)
	requirePending(t, second)

	clk.Advance(2 * time.Second)
	want := Result{ShouldProceed: true, AggregatedMessage: "hello\nworld"}
	require.Equal(t, want, receive(t, first).res)
	want.Leader = true
	require.Equal(t, want, receive(t, second).res, "the latest submitter leads the cycle")

	_, deletes, _ := store.stats()
	require.Equal(t, 1, deletes)
}

func TestSubmit_RestartMeasuresFromLatestMessage(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	m1 := submitAsync(c, "u1", "m1")
	waitArmed(t, clk, 1)
	clk.Advance(5 * time.Second)

	m2 := submitAsync(c, "u1", "m2")
	waitArmed(t, clk, 2)

	clk.Advance(5 * time.Second) // t=10s from m1
	requirePending(t, m1)

	clk.Advance(4 * time.Second) // t=14s
	requirePending(t, m1)

	clk.Advance(time.Second) // t=15s, 10s after m2
	require.Equal(t, "m1\nm2", receive(t, m1).res.AggregatedMessage)
	require.Equal(t, "m1\nm2", receive(t, m2).res.AggregatedMessage)
}

func TestSubmit_PreservesOrder(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	var outs []<-chan submitOutcome
	for i, msg := range []string{"m1", "m2", "m3"} {
		outs = append(outs, submitAsync(c, "u1", msg))
		waitArmed(t, clk, i+1)
	}

	clk.Advance(10 * time.Second)
	for _, out := range outs {
		got := receive(t, out)
		require.True(t, got.res.ShouldProceed)
		require.Equal(t, "m1\nm2\nm3", got.res.AggregatedMessage)
	}
}

func TestSubmit_EmptyKey(t *testing.T) {
	c, _ := newTestCoordinator(newMemStore())

	_, err := c.Submit(context.Background(), "", "hi")
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestSubmit_EmptyMessageIsBuffered(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	out := submitAsync(c, "u1", "")
	waitArmed(t, clk, 1)
	clk.Advance(10 * time.Second)

	got := receive(t, out)
	require.True(t, got.res.ShouldProceed)
	require.Equal(t, "", got.res.AggregatedMessage)
}

func TestSubmit_ContextCancelled(t *testing.T) {
	c, clk := newTestCoordinator(newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, "u1", "hi")
		done <- err
	}()
	waitArmed(t, clk, 1)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after cancellation")
	}
}

func TestSubmit_ConcurrentCallersSingleDrain(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	const n = 50
	outs := make([]<-chan submitOutcome, n)
	for i := 0; i < n; i++ {
		outs[i] = submitAsync(c, "u1", fmt.Sprintf("m%02d", i))
	}
	waitArmed(t, clk, n)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.keys["u1"] != nil && c.keys["u1"].appending == 0
	}, time.Second, time.Millisecond)

	clk.Advance(10 * time.Second)

	var first string
	leaders := 0
	for i, out := range outs {
		got := receive(t, out)
		require.True(t, got.res.ShouldProceed)
		if got.res.Leader {
			leaders++
		}
		if i == 0 {
			first = got.res.AggregatedMessage
			continue
		}
		require.Equal(t, first, got.res.AggregatedMessage, "every caller gets the same aggregation")
	}

	require.Equal(t, 1, leaders, "exactly one waiter leads a cycle")

	parts := strings.Split(first, "\n")
	require.Len(t, parts, n)
	sort.Strings(parts)
	for i, p := range parts {
		require.Equal(t, fmt.Sprintf("m%02d", i), p)
	}

	reads, deletes, maxReading := store.stats()
	require.Equal(t, 1, reads)
	require.Equal(t, 1, deletes)
	require.Equal(t, 1, maxReading)
}

// ---------------------------------------------------------------------------
// drain behaviour
// ---------------------------------------------------------------------------

func TestSubmit_DuringDrainJoinsNextCycle(t *testing.T) {
	store := newMemStore()
	store.readGate = make(chan struct{})
	c, clk := newTestCoordinator(store)

	first := submitAsync(c, "u1", "m1")
	waitArmed(t, clk, 1)
	clk.Advance(10 * time.Second)

	// Drain is now blocked inside ReadRange.
	require.Eventually(t, func() bool {
		active := c.ListActive()
		return len(active) == 1 && active[0].InFlight
	}, time.Second, time.Millisecond)

	second := submitAsync(c, "u1", "m2")
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.keys["u1"].next) == 1
	}, time.Second, time.Millisecond)

	close(store.readGate)
	require.Equal(t, Result{ShouldProceed: true, AggregatedMessage: "m1", Leader: true}, receive(t, first).res)

	// The queued message starts a fresh cycle once the first drain completes.
	waitArmed(t, clk, 2)
	require.True(t, store.has("u1"))
	requirePending(t, second)

	clk.Advance(10 * time.Second)
	require.Equal(t, Result{ShouldProceed: true, AggregatedMessage: "m2", Leader: true}, receive(t, second).res)

	_, _, maxReading := store.stats()
	require.Equal(t, 1, maxReading, "drains for one key never overlap")
}

func TestDrain_ReadFailureResolvesAllWaiters(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("connection reset")
	c, clk := newTestCoordinator(store)

	a := submitAsync(c, "u1", "a")
	waitArmed(t, clk, 1)
	b := submitAsync(c, "u1", "b")
	waitArmed(t, clk, 2)

	clk.Advance(10 * time.Second)
	require.Equal(t, Result{ShouldProceed: false}, receive(t, a).res)
	require.Equal(t, Result{ShouldProceed: false}, receive(t, b).res)
	require.Eventually(t, func() bool { return len(c.ListActive()) == 0 }, time.Second, time.Millisecond)

	// The key is not stuck once the store recovers.
	store.mu.Lock()
	store.readErr = nil
	store.mu.Unlock()

	again := submitAsync(c, "u1", "c")
	waitArmed(t, clk, 3)
	clk.Advance(10 * time.Second)
	require.Equal(t, "a\nb\nc", receive(t, again).res.AggregatedMessage)
}

func TestDrain_DeleteFailureResolvesFalse(t *testing.T) {
	store := newMemStore()
	store.deleteErr = errors.New("READONLY")
	c, clk := newTestCoordinator(store)

	out := submitAsync(c, "u1", "x")
	waitArmed(t, clk, 1)
	clk.Advance(10 * time.Second)

	require.Equal(t, Result{ShouldProceed: false}, receive(t, out).res)
	require.Eventually(t, func() bool { return len(c.ListActive()) == 0 }, time.Second, time.Millisecond)
}

func TestSubmit_AppendFailureResolvesFalse(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("OOM")
	c, _ := newTestCoordinator(store)

	res, err := c.Submit(context.Background(), "u1", "x")
	require.NoError(t, err)
	require.False(t, res.ShouldProceed)
	require.Empty(t, c.ListActive())
}

func TestSubmit_AppendFailureWaitsForOverlappingAppend(t *testing.T) {
	store := newMemStore()
	store.appendGate = make(chan struct{})
	store.gateValue = "slow"
	store.appendErr = errors.New("OOM")
	store.failValue = "bad"
	c, clk := newTestCoordinator(store)

	slow := submitAsync(c, "u1", "slow")
	require.Eventually(t, func() bool { return appending(c, "u1") == 1 }, time.Second, time.Millisecond)

	bad := submitAsync(c, "u1", "bad")
	requirePending(t, bad)
	close(store.appendGate)

	require.Equal(t, Result{ShouldProceed: false}, receive(t, bad).res)
	require.Equal(t, Result{ShouldProceed: false}, receive(t, slow).res)
	require.Empty(t, c.ListActive())
	require.False(t, store.has("u1"))
	require.Zero(t, clk.Armed())

	// The failed cycle leaves nothing behind for the next one.
	store.mu.Lock()
	store.appendErr = nil
	store.mu.Unlock()

	again := submitAsync(c, "u1", "fresh")
	waitArmed(t, clk, 1)
	clk.Advance(10 * time.Second)
	out := receive(t, again).res
	require.Equal(t, "fresh", out.AggregatedMessage)
	require.True(t, out.Leader)
}

func TestSubmit_AppendFailureClearsEarlierMessages(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("OOM")
	store.failValue = "bad"
	c, clk := newTestCoordinator(store)

	first := submitAsync(c, "u1", "first")
	waitArmed(t, clk, 1)
	require.True(t, store.has("u1"))

	res, err := c.Submit(context.Background(), "u1", "bad")
	require.NoError(t, err)
	require.False(t, res.ShouldProceed)
	require.False(t, receive(t, first).res.ShouldProceed)
	require.False(t, store.has("u1"))
	require.Empty(t, c.ListActive())

	// The cancelled timer of the failed cycle must not fire a drain.
	reads, _, _ := store.stats()
	clk.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	after, _, _ := store.stats()
	require.Equal(t, reads, after)
}

func TestLeader_SkipsCallerThatGaveUp(t *testing.T) {
	c, clk := newTestCoordinator(newMemStore())

	first := submitAsync(c, "u1", "a")
	waitArmed(t, clk, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, "u1", "b")
		done <- err
	}()
	waitArmed(t, clk, 2)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after cancellation")
	}

	clk.Advance(10 * time.Second)
	out := receive(t, first).res
	require.True(t, out.ShouldProceed)
	require.Equal(t, "a\nb", out.AggregatedMessage)
	require.True(t, out.Leader)
}

func TestKeysAreIsolated(t *testing.T) {
	store := newMemStore()
	store.failKey = "bad"
	store.readErr = errors.New("boom")
	c, clk := newTestCoordinator(store)

	bad := submitAsync(c, "bad", "x")
	waitArmed(t, clk, 1)
	clk.Advance(3 * time.Second)

	good := submitAsync(c, "good", "y")
	waitArmed(t, clk, 2)

	clk.Advance(7 * time.Second)
	require.False(t, receive(t, bad).res.ShouldProceed)
	requirePending(t, good)

	require.Eventually(t, func() bool {
		active := c.ListActive()
		return len(active) == 1 && active[0] == ActiveKey{Key: "good"}
	}, time.Second, time.Millisecond)

	clk.Advance(3 * time.Second)
	require.Equal(t, Result{ShouldProceed: true, AggregatedMessage: "y", Leader: true}, receive(t, good).res)
}

// ---------------------------------------------------------------------------
// administrative operations
// ---------------------------------------------------------------------------

func TestForceDrain_EmptyBuffer(t *testing.T) {
	c, _ := newTestCoordinator(newMemStore())

	res, err := c.ForceDrain(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, Result{ShouldProceed: false}, res)

	res, err = c.ForceDrain(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, res.ShouldProceed)
	require.Empty(t, c.ListActive())
}

func TestForceDrain_ReturnsBufferedMessages(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	out := submitAsync(c, "u1", "hello")
	waitArmed(t, clk, 1)

	res, err := c.ForceDrain(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, Result{ShouldProceed: true, AggregatedMessage: "hello"}, res)
	require.False(t, store.has("u1"))

	// The original caller is re-armed onto a new cycle, which finds nothing.
	waitArmed(t, clk, 2)
	clk.Advance(10 * time.Second)
	require.Equal(t, Result{ShouldProceed: false}, receive(t, out).res)
}

func TestForceDrain_RejectsWhileDraining(t *testing.T) {
	store := newMemStore()
	store.readGate = make(chan struct{})
	c, clk := newTestCoordinator(store)

	out := submitAsync(c, "u1", "x")
	waitArmed(t, clk, 1)
	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		active := c.ListActive()
		return len(active) == 1 && active[0].InFlight
	}, time.Second, time.Millisecond)

	_, err := c.ForceDrain(context.Background(), "u1")
	require.ErrorIs(t, err, ErrDrainInProgress)

	close(store.readGate)
	require.True(t, receive(t, out).res.ShouldProceed)
}

func TestForceDrain_StoreError(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("down")
	c, _ := newTestCoordinator(store)

	res, err := c.ForceDrain(context.Background(), "u1")
	require.Error(t, err)
	require.False(t, res.ShouldProceed)
	require.Empty(t, c.ListActive())
}

func TestCancelTimeout(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(ctx, "u1", "x")
		done <- err
	}()
	waitArmed(t, clk, 1)
	require.Len(t, c.ListActive(), 1)

	require.True(t, c.CancelTimeout("u1"))
	require.False(t, c.CancelTimeout("u1"))
	require.Empty(t, c.ListActive())

	clk.Advance(time.Minute)
	reads, _, _ := store.stats()
	require.Zero(t, reads, "cancelled timer must not drain")

	// The abandoned waiter is never resolved.
	require.ErrorIs(t, <-done, context.DeadlineExceeded)
	require.True(t, store.has("u1"))
}

func TestListActive_Sorted(t *testing.T) {
	c, clk := newTestCoordinator(newMemStore())

	submitAsync(c, "b", "1")
	submitAsync(c, "a", "2")
	waitArmed(t, clk, 2)

	require.Equal(t, []ActiveKey{{Key: "a"}, {Key: "b"}}, c.ListActive())
}

func TestShutdown_FlushesPendingCycles(t *testing.T) {
	store := newMemStore()
	c, clk := newTestCoordinator(store)

	out := submitAsync(c, "u1", "bye")
	waitArmed(t, clk, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	require.Equal(t, Result{ShouldProceed: true, AggregatedMessage: "bye", Leader: true}, receive(t, out).res)

	_, err := c.Submit(context.Background(), "u1", "late")
	require.ErrorIs(t, err, ErrClosed)
}

func TestNew_Defaults(t *testing.T) {
	c := New(newMemStore(), Options{})
	require.Equal(t, DefaultQuietPeriod, c.QuietPeriod())
	require.NotNil(t, c.log)
	require.IsType(t, realClock{}, c.clock)
}
