package unread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/notify"
)

type stubSource struct {
	mu    sync.Mutex
	calls int
	count int
	err   error
	block chan struct{}
}

func (s *stubSource) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	count, err := s.count, s.err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return count, err
}

func (s *stubSource) set(count int, err error) {
	s.mu.Lock()
	s.count, s.err = count, err
	s.mu.Unlock()
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitCalls(t *testing.T, s *stubSource, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Calls() >= n }, time.Second, 5*time.Millisecond)
}

func TestDefaults(t *testing.T) {
	p := New(Config{UserID: "u1"}, &stubSource{}, nil, nil)
	require.Equal(t, DefaultInterval, p.cfg.Interval)
	require.Equal(t, DefaultInterval, p.cfg.Timeout)
}

func TestFetchesImmediatelyOnStart(t *testing.T) {
	src := &stubSource{count: 4}
	p := New(Config{UserID: "u1", Interval: time.Hour}, src, nil, nil)

	got := make(chan int, 1)
	p.OnChange(func(n int) { got <- n })
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	select {
	case n := <-got:
		require.Equal(t, 4, n)
	case <-time.After(time.Second):
		t.Fatal("no fetch on start")
	}
	n, known := p.Count()
	require.True(t, known)
	require.Equal(t, 4, n)
}

func TestPollsOnInterval(t *testing.T) {
	src := &stubSource{count: 1}
	p := New(Config{UserID: "u1", Interval: 10 * time.Millisecond}, src, nil, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	waitCalls(t, src, 3)
}

func TestPollErrorKeepsLoopAndLastCount(t *testing.T) {
	src := &stubSource{count: 2}
	p := New(Config{UserID: "u1", Interval: 10 * time.Millisecond}, src, nil, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool {
		_, known := p.Count()
		return known
	}, time.Second, 5*time.Millisecond)

	src.set(0, errors.New("backend down"))
	calls := src.Calls()
	waitCalls(t, src, calls+2)
	require.Error(t, p.LastError())
	n, known := p.Count()
	require.True(t, known)
	require.Equal(t, 2, n)

	src.set(7, nil)
	require.Eventually(t, func() bool {
		n, _ := p.Count()
		return n == 7 && p.LastError() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestThreadClosedTriggersFetch(t *testing.T) {
	src := &stubSource{count: 3}
	bus := notify.NewBus()
	p := New(Config{UserID: "u1", Interval: time.Hour}, src, bus, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	waitCalls(t, src, 1)

	bus.Publish(notify.Event{Kind: notify.ThreadClosed, InquiryID: "i1", ViewerID: "u1"})
	waitCalls(t, src, 2)

	bus.Publish(notify.Event{Kind: notify.StatusChanged, InquiryID: "i1", ViewerID: "u1", Status: model.StatusClosed})
	waitCalls(t, src, 3)
}

func TestIgnoresUnrelatedEvents(t *testing.T) {
	src := &stubSource{}
	bus := notify.NewBus()
	p := New(Config{UserID: "u1", Interval: time.Hour}, src, bus, nil)
	require.NoError(t, p.Start(context.Background()))
	waitCalls(t, src, 1)

	bus.Publish(notify.Event{Kind: notify.ThreadClosed, ViewerID: "someone-else"})
	bus.Publish(notify.Event{Kind: notify.StatusChanged, ViewerID: "u1", Status: model.StatusResolved})
	bus.Publish(notify.Event{Kind: notify.InquiryCreated, ViewerID: "u1"})
	p.Stop()

	require.Equal(t, 1, src.Calls())
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(Config{UserID: "u1", Interval: time.Hour}, &stubSource{}, notify.NewBus(), nil)
	p.Stop()

	require.NoError(t, p.Start(context.Background()))
	require.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)
	p.Stop()
	p.Stop()
	require.False(t, p.IsRunning())

	// Triggers after stop are dropped.
	p.Trigger()
}

func TestStopCancelsInFlightFetch(t *testing.T) {
	src := &stubSource{count: 9, block: make(chan struct{})}
	bus := notify.NewBus()
	p := New(Config{UserID: "u1", Interval: time.Hour}, src, bus, nil)

	var changed bool
	p.OnChange(func(int) { changed = true })
	require.NoError(t, p.Start(context.Background()))
	waitCalls(t, src, 1)

	p.Stop()
	require.False(t, changed)
	_, known := p.Count()
	require.False(t, known)
	require.Zero(t, bus.Len())
}

func TestRestartAfterStop(t *testing.T) {
	src := &stubSource{count: 1}
	p := New(Config{UserID: "u1", Interval: time.Hour}, src, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	waitCalls(t, src, 1)
	p.Stop()

	require.NoError(t, p.Start(context.Background()))
	waitCalls(t, src, 2)
	p.Stop()
}

func TestParentContextCancelStopsLoop(t *testing.T) {
	src := &stubSource{}
	p := New(Config{UserID: "u1", Interval: 5 * time.Millisecond}, src, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	waitCalls(t, src, 1)

	cancel()
	p.wg.Wait()
	calls := src.Calls()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, calls, src.Calls())
	p.Stop()
}

func TestRestartAfterParentContextCancel(t *testing.T) {
	src := &stubSource{}
	bus := notify.NewBus()
	p := New(Config{UserID: "u1", Interval: time.Hour}, src, bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	waitCalls(t, src, 1)

	cancel()
	p.wg.Wait()
	require.False(t, p.IsRunning())
	require.Zero(t, bus.Len())

	require.NoError(t, p.Start(context.Background()))
	waitCalls(t, src, 2)
	require.True(t, p.IsRunning())
	p.Stop()
	require.False(t, p.IsRunning())
}
