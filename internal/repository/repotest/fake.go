// Package repotest provides an in-memory Repository for exercising the
// inquiry controllers without a backend.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/service0427/slot-inquiry/internal/lifecycle"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/repository"
)

// Operation names used by Calls and Fail.
const (
	OpListInquiries       = "ListInquiries"
	OpGetInquiry          = "GetInquiry"
	OpCreateInquiry       = "CreateInquiry"
	OpUpdateInquiryStatus = "UpdateInquiryStatus"
	OpListMessages        = "ListMessages"
	OpSendMessage         = "SendMessage"
	OpGetUnreadCount      = "GetUnreadCount"
	OpMarkRead            = "MarkRead"
)

// ErrInjected is the cause of failures configured through Fail.
var ErrInjected = errors.New("injected failure")

// Fake is a thread-safe in-memory Repository. It behaves like an
// authoritative backend: ids and timestamps are assigned here.
type Fake struct {
	mu        sync.Mutex
	inquiries map[string]*model.Inquiry
	messages  map[string][]model.InquiryMessage
	unread    map[string]int
	calls     map[string]int
	failures  map[string]int
	seq       int

	// Now stamps created records. Defaults to time.Now.
	Now func() time.Time

	// OnSend runs before a message is persisted, outside the fake's lock.
	// Returning an error fails the send.
	OnSend func(ctx context.Context, req model.SendMessageRequest) error

	// OnList runs before messages are listed, outside the fake's lock.
	OnList func(ctx context.Context, inquiryID string) error

	// OnListInquiries sees every inquiry filter before it is applied.
	OnListInquiries func(ctx context.Context, filter model.InquiryFilter) error
}

var _ repository.Repository = (*Fake)(nil)

// New creates an empty fake backend.
func New() *Fake {
	return &Fake{
		inquiries: make(map[string]*model.Inquiry),
		messages:  make(map[string][]model.InquiryMessage),
		unread:    make(map[string]int),
		calls:     make(map[string]int),
		failures:  make(map[string]int),
		Now:       time.Now,
	}
}

// Seed stores an inquiry and its messages as-is.
func (f *Fake) Seed(inq model.Inquiry, msgs ...model.InquiryMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := inq
	f.inquiries[inq.ID] = &cp
	f.messages[inq.ID] = append(f.messages[inq.ID], msgs...)
}

// SetUnread fixes the unread count reported for userID.
func (f *Fake) SetUnread(userID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unread[userID] = n
}

// Fail makes the next n calls of op fail with a 503. n < 0 fails forever.
func (f *Fake) Fail(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of invocations across all operations.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// Messages returns the stored thread of inquiryID.
func (f *Fake) Messages(inquiryID string) []model.InquiryMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.InquiryMessage(nil), f.messages[inquiryID]...)
}

// Inquiry returns the stored inquiry, or nil.
func (f *Fake) Inquiry(id string) *model.Inquiry {
	f.mu.Lock()
	defer f.mu.Unlock()
	inq, ok := f.inquiries[id]
	if !ok {
		return nil
	}
	cp := *inq
	return &cp
}

// enter records a call and reports an injected failure, if any.
func (f *Fake) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	n, ok := f.failures[op]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		f.failures[op] = n - 1
	}
	return repository.NewError(op, http.StatusServiceUnavailable, ErrInjected)
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Fake) ListInquiries(ctx context.Context, filter model.InquiryFilter) (*model.InquiryPage, error) {
	if err := f.enter(OpListInquiries); err != nil {
		return nil, err
	}
	if f.OnListInquiries != nil {
		if err := f.OnListInquiries(ctx, filter); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []model.Inquiry
	for _, inq := range f.inquiries {
		if filter.UserID != "" && inq.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && inq.Status != filter.Status {
			continue
		}
		if filter.SlotID != "" && inq.SlotID != filter.SlotID {
			continue
		}
		matched = append(matched, *inq)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	n := filter.Normalize()
	total := len(matched)
	start := min(n.Offset(), total)
	end := min(start+n.PageSize, total)
	return &model.InquiryPage{
		Inquiries: append([]model.Inquiry{}, matched[start:end]...),
		Total:     total,
		Page:      n.Page,
		PageSize:  n.PageSize,
		HasMore:   end < total,
	}, nil
}

func (f *Fake) GetInquiry(ctx context.Context, id string) (*model.Inquiry, error) {
	if err := f.enter(OpGetInquiry); err != nil {
		return nil, err
	}
	if inq := f.Inquiry(id); inq != nil {
		return inq, nil
	}
	return nil, repository.NewError(OpGetInquiry, http.StatusNotFound, errors.New("inquiry not found"))
}

func (f *Fake) CreateInquiry(ctx context.Context, req model.CreateInquiryRequest, actor model.Actor) (*model.Inquiry, error) {
	if err := f.enter(OpCreateInquiry); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	now := f.Now()
	inq := &model.Inquiry{
		ID:        f.nextID("inq"),
		Title:     req.Title,
		Category:  req.Category,
		Priority:  priority,
		Status:    model.StatusOpen,
		SlotID:    req.SlotID,
		UserID:    actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.inquiries[inq.ID] = inq
	cp := *inq
	return &cp, nil
}

func (f *Fake) UpdateInquiryStatus(ctx context.Context, id string, status model.Status, actor model.Actor) (*model.Inquiry, error) {
	if err := f.enter(OpUpdateInquiryStatus); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	inq, ok := f.inquiries[id]
	if !ok {
		return nil, repository.NewError(OpUpdateInquiryStatus, http.StatusNotFound, errors.New("inquiry not found"))
	}
	if err := lifecycle.CheckTransition(inq, status, actor); err != nil {
		code := http.StatusConflict
		if errors.Is(err, lifecycle.ErrForbidden) {
			code = http.StatusForbidden
		}
		return nil, repository.NewError(OpUpdateInquiryStatus, code, err)
	}
	inq.Status = status
	inq.UpdatedAt = f.Now()
	cp := *inq
	return &cp, nil
}

func (f *Fake) ListMessages(ctx context.Context, inquiryID string) ([]model.InquiryMessage, error) {
	if err := f.enter(OpListMessages); err != nil {
		return nil, err
	}
	if f.OnList != nil {
		if err := f.OnList(ctx, inquiryID); err != nil {
			return nil, repository.NewError(OpListMessages, 0, err)
		}
	}
	return f.Messages(inquiryID), nil
}

func (f *Fake) SendMessage(ctx context.Context, req model.SendMessageRequest, actor model.Actor) (*model.InquiryMessage, error) {
	if err := f.enter(OpSendMessage); err != nil {
		return nil, err
	}
	if f.OnSend != nil {
		if err := f.OnSend(ctx, req); err != nil {
			return nil, repository.NewError(OpSendMessage, 0, err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	inq, ok := f.inquiries[req.InquiryID]
	if !ok {
		return nil, repository.NewError(OpSendMessage, http.StatusNotFound, errors.New("inquiry not found"))
	}
	if err := lifecycle.CanSend(inq.Status); err != nil {
		return nil, repository.NewError(OpSendMessage, http.StatusConflict, err)
	}

	msg := model.InquiryMessage{
		ID:          f.nextID("msg"),
		InquiryID:   req.InquiryID,
		SenderID:    actor.UserID,
		SenderRole:  actor.Role,
		SenderName:  req.SenderName,
		SenderEmail: req.SenderEmail,
		Body:        req.Body,
		Attachments: append([]model.Attachment(nil), req.Attachments...),
		CreatedAt:   f.Now(),
	}
	f.messages[req.InquiryID] = append(f.messages[req.InquiryID], msg)
	inq.MessageCount++
	inq.LastMessageAt = msg.CreatedAt
	return &msg, nil
}

func (f *Fake) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	if err := f.enter(OpGetUnreadCount); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread[userID], nil
}

func (f *Fake) MarkRead(ctx context.Context, inquiryID string, actor model.Actor) error {
	if err := f.enter(OpMarkRead); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[inquiryID]
	for i := range msgs {
		if msgs[i].SenderID != actor.UserID {
			msgs[i].IsRead = true
		}
	}
	return nil
}
