// Package service provides business logic for the inquiry platform.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/service0427/slot-inquiry/internal/lifecycle"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/store"
	"github.com/service0427/slot-inquiry/pkg/logger"
	"github.com/service0427/slot-inquiry/pkg/metrics"
)

var (
	// ErrNotFound is returned for inquiries that do not exist or that the
	// actor may not see.
	ErrNotFound = errors.New("inquiry not found")
	// ErrInvalid is returned for malformed requests.
	ErrInvalid = errors.New("invalid request")
	// ErrConflict is returned when a concurrent change won.
	ErrConflict = errors.New("inquiry was modified concurrently")
)

const maxTitleLength = 200

// EventPublisher receives every mutation as an inquiry event.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.InquiryEvent) (uint64, error)
}

// InquiryService handles inquiry operations.
type InquiryService struct {
	store     *store.Store
	publisher EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewInquiryService creates a new inquiry service. publisher may be nil.
func NewInquiryService(st *store.Store, publisher EventPublisher, log *logger.Logger) *InquiryService {
	return &InquiryService{
		store:     st,
		publisher: publisher,
		logger:    logger.OrNop(log).Component("inquiry-service"),
		now:       time.Now,
	}
}

// Create opens a new inquiry owned by actor.
func (s *InquiryService) Create(ctx context.Context, actor model.Actor, req *model.CreateInquiryRequest) (*model.Inquiry, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrInvalid, maxTitleLength)
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalid, priority)
	}

	now := s.now().UTC()
	inq := &model.Inquiry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     title,
		Category:  strings.TrimSpace(req.Category),
		Priority:  priority,
		Status:    model.StatusOpen,
		SlotID:    strings.TrimSpace(req.SlotID),
		UserID:    actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateInquiry(ctx, inq); err != nil {
		return nil, fmt.Errorf("failed to create inquiry: %w", err)
	}

	metrics.InquiriesTotal.WithLabelValues(string(inq.Priority)).Inc()
	s.logger.Info("inquiry created",
		zap.String("inquiry_id", inq.ID),
		zap.String("code", inq.Code),
		zap.String("user_id", inq.UserID),
		zap.String("slot_id", inq.SlotID),
	)
	s.publish(ctx, &model.InquiryEvent{
		InquiryID: inq.ID,
		Type:      model.EventTypeCreated,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		To:        inq.Status,
		Metadata:  map[string]any{"code": inq.Code, "slot_id": inq.SlotID},
	})
	return inq, nil
}

// Get retrieves an inquiry the actor may view.
func (s *InquiryService) Get(ctx context.Context, actor model.Actor, id string) (*model.Inquiry, error) {
	inq, err := s.store.GetInquiry(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !actor.CanView(inq) {
		return nil, ErrNotFound
	}
	return inq, nil
}

// List returns one page of inquiries. Users only ever list their own; asking
// for another user's inquiries is forbidden rather than silently rescoped.
func (s *InquiryService) List(ctx context.Context, actor model.Actor, filter model.InquiryFilter) (*model.InquiryPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, filter.Status)
	}
	if !actor.IsAdmin() {
		if filter.UserID != "" && filter.UserID != actor.UserID {
			return nil, fmt.Errorf("%w: users may only list their own inquiries", lifecycle.ErrForbidden)
		}
		filter.UserID = actor.UserID
	}
	return s.store.ListInquiries(ctx, filter)
}

// UpdateStatus moves an inquiry through its lifecycle.
func (s *InquiryService) UpdateStatus(ctx context.Context, actor model.Actor, id string, to model.Status) (*model.Inquiry, error) {
	inq, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckTransition(inq, to, actor); err != nil {
		return nil, err
	}

	from := inq.Status
	now := s.now().UTC()
	if err := s.store.UpdateStatus(ctx, id, from, to, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	inq.Status = to
	inq.UpdatedAt = now

	metrics.StatusTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("inquiry status changed",
		zap.String("inquiry_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actor.UserID),
	)
	s.publish(ctx, &model.InquiryEvent{
		InquiryID: id,
		Type:      model.EventTypeStatusChanged,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		From:      from,
		To:        to,
	})
	return inq, nil
}

// publish sends an event best effort; the store stays the source of truth.
func (s *InquiryService) publish(ctx context.Context, event *model.InquiryEvent) {
	publishEvent(ctx, s.publisher, s.logger, s.now, event)
}

func publishEvent(ctx context.Context, p EventPublisher, log *logger.Logger, now func() time.Time, event *model.InquiryEvent) {
	if p == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.Must(uuid.NewV7()).String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now().UTC()
	}
	seq, err := p.PublishEvent(ctx, event)
	if err != nil {
		log.Warn("failed to publish inquiry event",
			zap.String("inquiry_id", event.InquiryID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return
	}
	event.Sequence = seq
}
