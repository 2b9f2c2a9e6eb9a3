// Package inbox owns the filtered, paginated inquiry listing of one actor.
package inbox

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/notify"
	"github.com/service0427/slot-inquiry/internal/repository"
	"github.com/service0427/slot-inquiry/pkg/logger"
)

// ErrAdminOnly is returned when a regular user tries to widen their scope.
var ErrAdminOnly = errors.New("only admins may filter by user")

// View is an immutable copy of the listing state.
type View struct {
	Filter model.InquiryFilter
	Page   *model.InquiryPage
	// Stale is set between an invalidation and the fetch that follows it.
	Stale bool
	Err   error
}

// Controller fetches inquiries for one actor. Regular users only ever see
// their own inquiries; admins see everything their filter matches. Every
// filter change is a fresh fetch because page boundaries depend on it.
type Controller struct {
	repo   repository.Repository
	actor  model.Actor
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	filter   model.InquiryFilter
	page     *model.InquiryPage
	stale    bool
	err      error
	gen      uint64
	closed   bool
	onChange func(View)

	unsubscribe func()
}

// New creates a list controller. bus may be nil.
func New(repo repository.Repository, actor model.Actor, bus *notify.Bus, log *logger.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		repo:   repo,
		actor:  actor,
		logger: logger.OrNop(log).Component("inbox").With(zap.String("actor_id", actor.UserID)),
		ctx:    ctx,
		cancel: cancel,
		filter: model.InquiryFilter{Page: 1, PageSize: model.DefaultPageSize},
	}
	c.unsubscribe = bus.Subscribe(c.handleEvent)
	return c
}

// OnChange registers fn to receive the view after every change.
func (c *Controller) OnChange(fn func(View)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// View returns the current listing state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Page returns the last fetched page, or nil before the first Load.
func (c *Controller) Page() *model.InquiryPage {
	return c.View().Page
}

// Filter returns the effective filter, including the actor's scope.
func (c *Controller) Filter() model.InquiryFilter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scoped(c.filter)
}

// Load fetches the page the current filter describes.
func (c *Controller) Load(ctx context.Context) (*model.InquiryPage, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	filter := c.scoped(c.filter)
	c.mu.Unlock()

	page, err := c.repo.ListInquiries(ctx, filter)

	c.mu.Lock()
	if gen != c.gen {
		// A newer filter superseded this fetch.
		c.mu.Unlock()
		return page, err
	}
	if err != nil {
		c.err = err
	} else {
		c.page = page
		c.err = nil
		c.stale = false
	}
	view := c.viewLocked()
	c.mu.Unlock()
	c.emit(view)

	if err != nil {
		c.logger.Warn("inquiry list fetch failed", zap.Error(err))
		return nil, err
	}
	return page, nil
}

// SetStatus filters by status (empty for all) and fetches the first page.
func (c *Controller) SetStatus(ctx context.Context, status model.Status) (*model.InquiryPage, error) {
	return c.update(ctx, func(f *model.InquiryFilter) {
		f.Status = status
		f.Page = 1
	})
}

// SetSlot filters by slot (empty for all) and fetches the first page.
func (c *Controller) SetSlot(ctx context.Context, slotID string) (*model.InquiryPage, error) {
	return c.update(ctx, func(f *model.InquiryFilter) {
		f.SlotID = slotID
		f.Page = 1
	})
}

// SetUser narrows an admin's listing to one user (empty for all).
func (c *Controller) SetUser(ctx context.Context, userID string) (*model.InquiryPage, error) {
	if !c.actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return c.update(ctx, func(f *model.InquiryFilter) {
		f.UserID = userID
		f.Page = 1
	})
}

// SetFilter replaces the whole filter and fetches it once. Only an admin may
// name a user.
func (c *Controller) SetFilter(ctx context.Context, filter model.InquiryFilter) (*model.InquiryPage, error) {
	if filter.UserID != "" && !c.actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	return c.update(ctx, func(f *model.InquiryFilter) {
		*f = filter
	})
}

// SetPage fetches another page of the current filter.
func (c *Controller) SetPage(ctx context.Context, page int) (*model.InquiryPage, error) {
	return c.update(ctx, func(f *model.InquiryFilter) {
		f.Page = page
	})
}

// SetPageSize changes the page size and fetches the first page.
func (c *Controller) SetPageSize(ctx context.Context, size int) (*model.InquiryPage, error) {
	return c.update(ctx, func(f *model.InquiryFilter) {
		f.PageSize = size
		f.Page = 1
	})
}

// Invalidate marks the listing stale and re-fetches it in the background.
// It does nothing after Close.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stale = true
	view := c.viewLocked()
	c.wg.Add(1)
	c.mu.Unlock()
	c.emit(view)

	go func() {
		defer c.wg.Done()
		if c.ctx.Err() != nil {
			return
		}
		_, _ = c.Load(c.ctx)
	}()
}

// Close stops listening for checkpoints and waits for background fetches.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.unsubscribe()
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) update(ctx context.Context, mutate func(*model.InquiryFilter)) (*model.InquiryPage, error) {
	c.mu.Lock()
	mutate(&c.filter)
	c.filter = c.filter.Normalize()
	c.mu.Unlock()
	return c.Load(ctx)
}

func (c *Controller) handleEvent(e notify.Event) {
	switch e.Kind {
	case notify.StatusChanged, notify.ThreadClosed, notify.InquiryCreated:
	default:
		return
	}
	if !c.actor.IsAdmin() && e.Inquiry != nil && e.Inquiry.UserID != c.actor.UserID {
		return
	}
	c.Invalidate()
}

// scoped applies the actor's visibility to f.
func (c *Controller) scoped(f model.InquiryFilter) model.InquiryFilter {
	if !c.actor.IsAdmin() {
		f.UserID = c.actor.UserID
	}
	return f.Normalize()
}

func (c *Controller) viewLocked() View {
	v := View{Filter: c.scoped(c.filter), Stale: c.stale, Err: c.err}
	if c.page != nil {
		cp := *c.page
		cp.Inquiries = append([]model.Inquiry(nil), c.page.Inquiries...)
		v.Page = &cp
	}
	return v
}

func (c *Controller) emit(v View) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(v)
	}
}
