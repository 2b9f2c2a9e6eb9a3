// Package unread keeps a user's unread-message badge fresh.
package unread

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/notify"
	"github.com/service0427/slot-inquiry/pkg/logger"
	"github.com/service0427/slot-inquiry/pkg/metrics"
)

// DefaultInterval is how often the count is refreshed without a checkpoint.
const DefaultInterval = 30 * time.Second

// ErrAlreadyRunning is returned by Start on a running poller.
var ErrAlreadyRunning = errors.New("unread poller already running")

// Source is the slice of the repository the poller needs.
type Source interface {
	GetUnreadCount(ctx context.Context, userID string) (int, error)
}

// Config contains configuration for the poller.
type Config struct {
	UserID string
	// Interval between scheduled fetches. Default: 30s
	Interval time.Duration
	// Timeout bounds a single fetch. Default: Interval
	Timeout time.Duration
}

// Poller fetches the unread count on Start, on every tick, and whenever a
// thread the user was viewing is closed. Failed fetches are logged and the
// last known count is kept.
type Poller struct {
	cfg    Config
	source Source
	bus    *notify.Bus
	logger *logger.Logger

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	trigger     chan struct{}
	unsubscribe func()
	count       int
	known       bool
	lastErr     error
	onChange    func(int)
}

// New creates a poller. bus may be nil.
func New(cfg Config, source Source, bus *notify.Bus, log *logger.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	return &Poller{
		cfg:    cfg,
		source: source,
		bus:    bus,
		logger: logger.OrNop(log).Component("unread-poller").With(zap.String("user_id", cfg.UserID)),
	}
}

// OnChange registers fn to receive every successfully fetched count.
func (p *Poller) OnChange(fn func(int)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Count returns the last fetched count and whether any fetch has succeeded.
func (p *Poller) Count() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, p.known
}

// LastError returns the error of the most recent fetch, nil after a success.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// IsRunning reports whether the loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start fetches immediately and then keeps polling until ctx is cancelled
// or Stop is called. Either way the poller can be started again.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.trigger = make(chan struct{}, 1)
	p.unsubscribe = p.bus.Subscribe(p.handleEvent)

	p.logger.Info("unread poller starting", zap.Duration("interval", p.cfg.Interval))

	p.wg.Add(1)
	go p.runLoop(ctx, p.trigger)
	return nil
}

// Stop halts the loop and waits for it to exit. It is safe to call when the
// poller is not running or no fetch is in flight.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	unsubscribe := p.unsubscribe
	p.mu.Unlock()

	unsubscribe()
	p.wg.Wait()
	p.logger.Info("unread poller stopped")
}

// Trigger requests an immediate fetch. Requests made while one is already
// queued are coalesced.
func (p *Poller) Trigger() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Poller) handleEvent(e notify.Event) {
	if e.ViewerID != "" && e.ViewerID != p.cfg.UserID {
		return
	}
	switch {
	case e.Kind == notify.ThreadClosed:
	case e.Kind == notify.StatusChanged && e.Status == model.StatusClosed:
	default:
		return
	}
	p.Trigger()
}

func (p *Poller) runLoop(ctx context.Context, trigger chan struct{}) {
	defer p.wg.Done()
	defer p.finish(trigger)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-trigger:
			p.poll(ctx)
		}
	}
}

// finish clears the running state when the loop ends on its own because the
// parent context was cancelled. After Stop, or once a newer run has started,
// it does nothing.
func (p *Poller) finish(trigger chan struct{}) {
	p.mu.Lock()
	if !p.running || p.trigger != trigger {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	unsubscribe := p.unsubscribe
	p.mu.Unlock()

	unsubscribe()
	p.logger.Info("unread poller stopped", zap.String("reason", "context done"))
}

func (p *Poller) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	n, err := p.source.GetUnreadCount(fetchCtx, p.cfg.UserID)
	cancel()

	if ctx.Err() != nil {
		// Stopped mid-fetch; the result belongs to nobody.
		return
	}
	metrics.RecordUnreadPoll(n, err)

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.count = n
		p.known = true
	}
	fn := p.onChange
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("unread count fetch failed", zap.Error(err))
		return
	}
	if fn != nil {
		fn(n)
	}
}
