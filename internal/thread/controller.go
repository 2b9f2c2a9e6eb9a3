// Package thread owns the in-memory state of one open inquiry conversation.
//
// The controller shows sends optimistically and reconciles them with the
// backend by temporary id, never by list position. Every mutation of the
// controller's state happens under its lock; repository calls happen
// outside it.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/service0427/slot-inquiry/internal/lifecycle"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/notify"
	"github.com/service0427/slot-inquiry/internal/repository"
	"github.com/service0427/slot-inquiry/pkg/logger"
	"github.com/service0427/slot-inquiry/pkg/metrics"
)

// Mode is what the controller is currently showing.
type Mode int

const (
	// ModeIdle means nothing is loaded yet.
	ModeIdle Mode = iota
	// ModeExisting shows a persisted inquiry.
	ModeExisting
	// ModeComposeNew collects the first message of an inquiry not created yet.
	ModeComposeNew
)

func (m Mode) String() string {
	switch m {
	case ModeExisting:
		return "existing"
	case ModeComposeNew:
		return "compose_new"
	default:
		return "idle"
	}
}

// Errors returned before any network call is made.
var (
	ErrEmptyMessage   = errors.New("message needs a body or an attachment")
	ErrNotLoaded      = errors.New("no inquiry is loaded")
	ErrCreateInFlight = errors.New("inquiry creation already in progress")
	ErrControllerShut = errors.New("thread controller is closed")
)

// LoadError reports a failed bootstrap or refresh. No partial state is kept.
type LoadError struct {
	InquiryID string
	SlotID    string
	Cause     error
}

func (e *LoadError) Error() string {
	if e.InquiryID == "" && e.SlotID != "" {
		return fmt.Sprintf("load inquiry for slot %s: %v", e.SlotID, e.Cause)
	}
	return fmt.Sprintf("load inquiry %s: %v", e.InquiryID, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// SendError reports a send that was rolled back. The draft is not restored.
type SendError struct {
	TempID string
	// Created is the inquiry created by this send, when creation succeeded
	// and only the first message failed.
	Created *model.Inquiry
	Cause   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message: %v", e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// Draft is the compose input.
type Draft struct {
	Body        string
	Attachments []model.Attachment
}

func (d Draft) hasContent() bool {
	return strings.TrimSpace(d.Body) != "" || len(d.Attachments) > 0
}

// Snapshot is an immutable copy of the controller state.
type Snapshot struct {
	Mode    Mode
	Inquiry *model.Inquiry
	SlotID  string
	Status  model.Status
	Entries []Entry
	Pending int
	Draft   Draft
}

// Messages returns the visible messages in thread order.
func (s Snapshot) Messages() []model.InquiryMessage {
	out := make([]model.InquiryMessage, len(s.Entries))
	for i := range s.Entries {
		out[i] = s.Entries[i].Message
	}
	return out
}

// Controller presents one ordered, consistent view of an inquiry thread.
type Controller struct {
	repo   repository.Repository
	actor  model.Actor
	bus    *notify.Bus
	logger *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	mode     Mode
	inquiry  *model.Inquiry
	slotID   string
	template model.CreateInquiryRequest
	creating bool
	entries  []Entry
	pending  map[string]struct{}
	// confirmSeq counts reconciled sends. confirmedAt maps each server id
	// confirmed since the thread was installed to the count at confirmation.
	confirmSeq  uint64
	confirmedAt map[string]uint64
	draft       Draft
	onChange    func(Snapshot)
	shut        bool

	unsubscribe func()
}

// New creates a controller acting as actor. bus may be nil.
func New(repo repository.Repository, actor model.Actor, bus *notify.Bus, log *logger.Logger) *Controller {
	c := &Controller{
		repo:        repo,
		actor:       actor,
		bus:         bus,
		logger:      logger.OrNop(log).Component("thread").With(zap.String("actor_id", actor.UserID)),
		now:         time.Now,
		pending:     make(map[string]struct{}),
		confirmedAt: make(map[string]uint64),
	}
	c.unsubscribe = bus.Subscribe(c.handleEvent)
	return c
}

// OnChange registers fn to receive a snapshot after every state change.
// fn is called without the controller's lock held.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Open bootstraps an existing inquiry: the inquiry and its messages are
// fetched concurrently and installed only when both succeed.
func (c *Controller) Open(ctx context.Context, inquiryID string) error {
	if c.isShut() {
		return ErrControllerShut
	}

	inq, msgs, err := c.fetch(ctx, inquiryID)
	if err != nil {
		c.mu.Lock()
		c.resetLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		c.logger.Warn("inquiry load failed", zap.String("inquiry_id", inquiryID), zap.Error(err))
		return &LoadError{InquiryID: inquiryID, Cause: err}
	}

	c.mu.Lock()
	c.installLocked(inq, msgs)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	c.markRead(ctx, inq.ID)
	return nil
}

// OpenForSlot looks for the actor's inquiry about slotID and opens it; when
// none exists the controller switches to compose-new mode using tmpl for the
// inquiry that the first send will create.
//
// The lookup and the later creation are not atomic: two tabs can both find
// nothing and both create an inquiry for the same slot.
func (c *Controller) OpenForSlot(ctx context.Context, slotID string, tmpl model.CreateInquiryRequest) error {
	if c.isShut() {
		return ErrControllerShut
	}

	page, err := c.repo.ListInquiries(ctx, model.InquiryFilter{
		UserID:   c.actor.UserID,
		SlotID:   slotID,
		PageSize: 1,
	})
	if err != nil {
		c.mu.Lock()
		c.resetLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		return &LoadError{SlotID: slotID, Cause: err}
	}
	if len(page.Inquiries) > 0 {
		return c.Open(ctx, page.Inquiries[0].ID)
	}

	tmpl.SlotID = slotID
	c.ComposeNew(tmpl)
	return nil
}

// ComposeNew switches to compose-new mode. The first Send creates the
// inquiry described by tmpl.
func (c *Controller) ComposeNew(tmpl model.CreateInquiryRequest) {
	c.mu.Lock()
	c.resetLocked()
	c.mode = ModeComposeNew
	c.slotID = tmpl.SlotID
	c.template = tmpl
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// SetDraft replaces the compose body.
func (c *Controller) SetDraft(body string) {
	c.mu.Lock()
	c.draft.Body = body
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// AddAttachment appends an already uploaded attachment to the draft.
func (c *Controller) AddAttachment(a model.Attachment) {
	c.mu.Lock()
	c.draft.Attachments = append(c.draft.Attachments, a)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// Draft returns the compose input.
func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyDraft(c.draft)
}

// Send delivers the current draft with the optimistic protocol. The
// provisional message is visible and the draft cleared before the backend is
// called. On success the provisional entry is replaced in place by the
// confirmed message; on failure it is removed and a *SendError is returned.
func (c *Controller) Send(ctx context.Context) (*model.InquiryMessage, error) {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return nil, ErrControllerShut
	}
	draft := copyDraft(c.draft)
	if !draft.hasContent() {
		c.mu.Unlock()
		metrics.RecordSend("rejected")
		return nil, ErrEmptyMessage
	}
	mode := c.mode
	switch mode {
	case ModeIdle:
		c.mu.Unlock()
		metrics.RecordSend("rejected")
		return nil, ErrNotLoaded
	case ModeExisting:
		if err := lifecycle.CanSend(c.status()); err != nil {
			c.mu.Unlock()
			metrics.RecordSend("rejected")
			return nil, err
		}
	case ModeComposeNew:
		if c.creating {
			c.mu.Unlock()
			metrics.RecordSend("rejected")
			return nil, ErrCreateInFlight
		}
		c.creating = true
	}

	tempID := newTempID(c.now())
	provisional := model.InquiryMessage{
		ID:          tempID,
		InquiryID:   c.inquiryID(),
		SenderID:    c.actor.UserID,
		SenderRole:  c.actor.Role,
		SenderName:  c.actor.Name,
		SenderEmail: c.actor.Email,
		Body:        draft.Body,
		Attachments: draft.Attachments,
		IsRead:      true,
		CreatedAt:   c.provisionalTimeLocked(),
	}
	c.entries = append(c.entries, Entry{Message: provisional, Delivery: Pending{TempID: tempID}})
	c.pending[tempID] = struct{}{}
	c.draft = Draft{}
	inquiryID := provisional.InquiryID
	tmpl := c.template
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	var created *model.Inquiry
	if mode == ModeComposeNew {
		inq, err := c.createInquiry(ctx, tmpl, draft)
		if err != nil {
			c.rollback(tempID)
			c.logger.Warn("inquiry creation failed", zap.String("temp_id", tempID), zap.Error(err))
			return nil, &SendError{TempID: tempID, Cause: err}
		}
		created = inq
		inquiryID = inq.ID
	}

	msg, err := c.repo.SendMessage(ctx, model.SendMessageRequest{
		InquiryID:   inquiryID,
		Body:        draft.Body,
		Attachments: draft.Attachments,
		SenderName:  c.actor.Name,
		SenderEmail: c.actor.Email,
	}, c.actor)
	if err != nil {
		c.rollback(tempID)
		c.logger.Warn("message send failed",
			zap.String("inquiry_id", inquiryID),
			zap.String("temp_id", tempID),
			zap.Error(err),
		)
		return nil, &SendError{TempID: tempID, Created: created, Cause: err}
	}

	confirmed := c.reconcile(tempID, provisional, *msg)
	return &confirmed, nil
}

// Refresh re-fetches the inquiry and its messages and replaces the confirmed
// part of the thread. Sends still in flight stay visible on top of the
// fetched list.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeExisting {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	inquiryID := c.inquiry.ID
	startSeq := c.confirmSeq
	c.mu.Unlock()

	inq, msgs, err := c.fetch(ctx, inquiryID)
	if err != nil {
		return &LoadError{InquiryID: inquiryID, Cause: err}
	}

	c.mu.Lock()
	if c.mode != ModeExisting || c.inquiry.ID != inquiryID {
		c.mu.Unlock()
		return nil
	}
	fetched := make(map[string]struct{}, len(msgs))
	entries := make([]Entry, 0, len(msgs)+len(c.pending))
	for _, m := range msgs {
		fetched[m.ID] = struct{}{}
		entries = append(entries, confirmedEntry(m))
	}
	for _, e := range c.entries {
		switch d := e.Delivery.(type) {
		case Pending:
			if _, inFlight := c.pending[d.TempID]; inFlight {
				entries = append(entries, e)
			}
		case Confirmed:
			// Confirmed after the fetch started: the fetched list may predate it.
			if _, ok := fetched[d.ServerID]; !ok && c.confirmedAt[d.ServerID] > startSeq {
				entries = append(entries, e)
			}
		}
	}
	sortEntries(entries)
	c.entries = entries
	c.inquiry = inq
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
	return nil
}

// ChangeStatus moves the inquiry to status. Transitions the state machine
// rejects fail before any network call; backend failures leave the local
// status unchanged.
func (c *Controller) ChangeStatus(ctx context.Context, status model.Status) (*model.Inquiry, error) {
	c.mu.Lock()
	if c.mode != ModeExisting {
		c.mu.Unlock()
		return nil, ErrNotLoaded
	}
	current := *c.inquiry
	c.mu.Unlock()

	if err := lifecycle.CheckTransition(&current, status, c.actor); err != nil {
		return nil, err
	}

	updated, err := c.repo.UpdateInquiryStatus(ctx, current.ID, status, c.actor)
	if err != nil {
		c.logger.Warn("status change failed",
			zap.String("inquiry_id", current.ID),
			zap.String("to", string(status)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("change status to %s: %w", status, err)
	}

	c.applyStatus(updated)
	c.logger.Info("inquiry status changed",
		zap.String("inquiry_id", updated.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(updated.Status)),
	)
	c.bus.Publish(notify.Event{
		Kind:      notify.StatusChanged,
		InquiryID: updated.ID,
		ViewerID:  c.actor.UserID,
		Status:    updated.Status,
		Inquiry:   updated,
	})
	return updated, nil
}

// Close dismisses the thread. It stops listening for checkpoints and tells
// the unread poller that messages may have been read. Safe to call twice.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return
	}
	c.shut = true
	inquiryID := c.inquiryID()
	c.mu.Unlock()

	c.unsubscribe()
	c.bus.Publish(notify.Event{
		Kind:      notify.ThreadClosed,
		InquiryID: inquiryID,
		ViewerID:  c.actor.UserID,
	})
}

// fetch loads an inquiry and its thread concurrently.
func (c *Controller) fetch(ctx context.Context, inquiryID string) (*model.Inquiry, []model.InquiryMessage, error) {
	var (
		wg     sync.WaitGroup
		inq    *model.Inquiry
		msgs   []model.InquiryMessage
		inqErr error
		msgErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		inq, inqErr = c.repo.GetInquiry(ctx, inquiryID)
	}()
	go func() {
		defer wg.Done()
		msgs, msgErr = c.repo.ListMessages(ctx, inquiryID)
	}()
	wg.Wait()

	if inqErr != nil {
		return nil, nil, inqErr
	}
	if msgErr != nil {
		return nil, nil, msgErr
	}
	return inq, msgs, nil
}

func (c *Controller) createInquiry(ctx context.Context, tmpl model.CreateInquiryRequest, draft Draft) (*model.Inquiry, error) {
	if tmpl.Title == "" {
		tmpl.Title = defaultTitle(tmpl.SlotID, draft.Body)
	}

	inq, err := c.repo.CreateInquiry(ctx, tmpl, c.actor)

	c.mu.Lock()
	c.creating = false
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	// The inquiry is real from here on, even if its first message fails.
	c.mode = ModeExisting
	c.inquiry = inq
	c.slotID = inq.SlotID
	for i := range c.entries {
		if c.entries[i].IsPending() && c.entries[i].Message.InquiryID == "" {
			c.entries[i].Message.InquiryID = inq.ID
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	c.logger.Info("inquiry created", zap.String("inquiry_id", inq.ID), zap.String("slot_id", inq.SlotID))
	c.bus.Publish(notify.Event{
		Kind:      notify.InquiryCreated,
		InquiryID: inq.ID,
		ViewerID:  c.actor.UserID,
		Status:    inq.Status,
		Inquiry:   inq,
	})
	return inq, nil
}

// reconcile swaps the provisional entry for the confirmed message. If a
// refresh already brought the confirmed message in, the provisional entry is
// dropped instead so the message never shows twice.
func (c *Controller) reconcile(tempID string, provisional, server model.InquiryMessage) model.InquiryMessage {
	confirmed := merge(provisional, server)

	c.mu.Lock()
	delete(c.pending, tempID)
	c.confirmSeq++
	c.confirmedAt[confirmed.ID] = c.confirmSeq
	idx := indexOf(c.entries, tempID)
	switch {
	case idx < 0:
		// The thread was replaced by another inquiry while the send was in flight.
	case indexOf(c.entries, confirmed.ID) >= 0:
		c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	default:
		c.entries[idx] = confirmedEntry(confirmed)
		sortEntries(c.entries)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	metrics.RecordSend("confirmed")
	c.logger.Debug("message confirmed", zap.String("temp_id", tempID), zap.String("message_id", confirmed.ID))
	return confirmed
}

// rollback removes the provisional entry as if the send never happened.
func (c *Controller) rollback(tempID string) {
	c.mu.Lock()
	delete(c.pending, tempID)
	if idx := indexOf(c.entries, tempID); idx >= 0 {
		c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
	metrics.RecordSend("rolled_back")
}

func (c *Controller) applyStatus(inq *model.Inquiry) {
	c.mu.Lock()
	if c.mode != ModeExisting || c.inquiry.ID != inq.ID {
		c.mu.Unlock()
		return
	}
	cp := *c.inquiry
	cp.Status = inq.Status
	if !inq.UpdatedAt.IsZero() {
		cp.UpdatedAt = inq.UpdatedAt
	}
	c.inquiry = &cp
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

func (c *Controller) handleEvent(e notify.Event) {
	if e.Kind != notify.StatusChanged || e.Inquiry == nil {
		return
	}
	c.applyStatus(e.Inquiry)
}

// markRead clears the unread flag of the other side's messages. Failure only
// leaves the badge stale, so it is logged and ignored.
func (c *Controller) markRead(ctx context.Context, inquiryID string) {
	if err := c.repo.MarkRead(ctx, inquiryID, c.actor); err != nil {
		c.logger.Warn("mark read failed", zap.String("inquiry_id", inquiryID), zap.Error(err))
	}
}

func (c *Controller) installLocked(inq *model.Inquiry, msgs []model.InquiryMessage) {
	c.resetLocked()
	c.mode = ModeExisting
	c.inquiry = inq
	c.slotID = inq.SlotID
	c.entries = make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		c.entries = append(c.entries, confirmedEntry(m))
	}
	sortEntries(c.entries)
}

func (c *Controller) resetLocked() {
	c.mode = ModeIdle
	c.inquiry = nil
	c.slotID = ""
	c.template = model.CreateInquiryRequest{}
	c.creating = false
	c.entries = nil
	c.pending = make(map[string]struct{})
	c.confirmedAt = make(map[string]uint64)
	c.draft = Draft{}
}

// provisionalTimeLocked never stamps a provisional message earlier than the
// last visible message, so appending keeps the thread ordered.
func (c *Controller) provisionalTimeLocked() time.Time {
	now := c.now()
	if n := len(c.entries); n > 0 {
		if last := c.entries[n-1].Message.CreatedAt; last.After(now) {
			return last
		}
	}
	return now
}

func (c *Controller) status() model.Status {
	if c.inquiry == nil {
		return ""
	}
	return c.inquiry.Status
}

func (c *Controller) inquiryID() string {
	if c.inquiry == nil {
		return ""
	}
	return c.inquiry.ID
}

func (c *Controller) isShut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shut
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Mode:    c.mode,
		SlotID:  c.slotID,
		Status:  c.status(),
		Entries: append([]Entry(nil), c.entries...),
		Pending: len(c.pending),
		Draft:   copyDraft(c.draft),
	}
	if c.mode == ModeComposeNew {
		snap.Status = model.StatusOpen
	}
	if c.inquiry != nil {
		cp := *c.inquiry
		snap.Inquiry = &cp
	}
	return snap
}

func (c *Controller) emit(snap Snapshot) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func copyDraft(d Draft) Draft {
	return Draft{
		Body:        d.Body,
		Attachments: append([]model.Attachment(nil), d.Attachments...),
	}
}

const maxTitleRunes = 60

// defaultTitle derives an inquiry title from the first message.
func defaultTitle(slotID, body string) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(body), "\n", 2)[0])
	if line == "" {
		if slotID != "" {
			return "Inquiry about slot " + slotID
		}
		return "New inquiry"
	}
	if utf8.RuneCountInString(line) > maxTitleRunes {
		runes := []rune(line)
		line = string(runes[:maxTitleRunes]) + "…"
	}
	return line
}
