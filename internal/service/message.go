package service

import (
	"context"
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

const (
	maxBodyLength   = 10000
	maxAttachments  = 10
	maxAttachmentSz = 50 << 20
)

// MessageService handles thread operations.
type MessageService struct {
	store     *store.Store
	inquiries *InquiryService
	publisher EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewMessageService creates a new message service. publisher may be nil.
func NewMessageService(st *store.Store, inquiries *InquiryService, publisher EventPublisher, log *logger.Logger) *MessageService {
	return &MessageService{
		store:     st,
		inquiries: inquiries,
		publisher: publisher,
		logger:    logger.OrNop(log).Component("message-service"),
		now:       time.Now,
	}
}

// List returns the thread of an inquiry the actor may view.
func (s *MessageService) List(ctx context.Context, actor model.Actor, inquiryID string) (*model.ListMessagesResponse, error) {
	if _, err := s.inquiries.Get(ctx, actor, inquiryID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, inquiryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return &model.ListMessagesResponse{Messages: msgs}, nil
}

// Send appends a message to an inquiry. Closed inquiries accept nothing.
func (s *MessageService) Send(ctx context.Context, actor model.Actor, inquiryID string, req *model.SendMessageRequest) (*model.InquiryMessage, error) {
	if err := ValidateMessage(req); err != nil {
		return nil, err
	}
	inq, err := s.inquiries.Get(ctx, actor, inquiryID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanSend(inq.Status); err != nil {
		return nil, err
	}

	msg := &model.InquiryMessage{
		ID:          uuid.Must(uuid.NewV7()).String(),
		InquiryID:   inquiryID,
		SenderID:    actor.UserID,
		SenderRole:  actor.Role,
		SenderName:  firstNonEmpty(req.SenderName, actor.Name),
		SenderEmail: firstNonEmpty(req.SenderEmail, actor.Email),
		Body:        req.Body,
		Attachments: req.Attachments,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(actor.Role)).Inc()
	s.logger.Debug("message stored",
		zap.String("inquiry_id", inquiryID),
		zap.String("message_id", msg.ID),
		zap.String("sender_id", actor.UserID),
		zap.Int("attachments", len(msg.Attachments)),
	)
	publishEvent(ctx, s.publisher, s.logger, s.now, &model.InquiryEvent{
		InquiryID: inquiryID,
		Type:      model.EventTypeMessageSent,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		MessageID: msg.ID,
	})
	return msg, nil
}

// UnreadCount returns the unread counter of userID. Users may only read
// their own; admins reading their own counter see the admin inbox.
func (s *MessageService) UnreadCount(ctx context.Context, actor model.Actor, userID string) (int, error) {
	reader := actor
	if userID != actor.UserID {
		if !actor.IsAdmin() {
			return 0, fmt.Errorf("%w: unread count of another user", lifecycle.ErrForbidden)
		}
		reader = model.Actor{UserID: userID, Role: model.RoleUser}
	}
	return s.store.UnreadCount(ctx, reader)
}

// MarkRead marks the messages addressed to actor in an inquiry as read.
func (s *MessageService) MarkRead(ctx context.Context, actor model.Actor, inquiryID string) (int64, error) {
	if _, err := s.inquiries.Get(ctx, actor, inquiryID); err != nil {
		return 0, err
	}
	n, err := s.store.MarkRead(ctx, inquiryID, actor)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		publishEvent(ctx, s.publisher, s.logger, s.now, &model.InquiryEvent{
			InquiryID: inquiryID,
			Type:      model.EventTypeRead,
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
			Metadata:  map[string]any{"count": n},
		})
	}
	return n, nil
}

// ValidateMessage checks that a message carries a body or attachments and
// stays within limits.
func ValidateMessage(req *model.SendMessageRequest) error {
	if strings.TrimSpace(req.Body) == "" && len(req.Attachments) == 0 {
		return fmt.Errorf("%w: message needs a body or an attachment", ErrInvalid)
	}
	if !utf8.ValidString(req.Body) {
		return fmt.Errorf("%w: body must be valid UTF-8", ErrInvalid)
	}
	if utf8.RuneCountInString(req.Body) > maxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters", ErrInvalid, maxBodyLength)
	}
	if len(req.Attachments) > maxAttachments {
		return fmt.Errorf("%w: at most %d attachments", ErrInvalid, maxAttachments)
	}
	for _, a := range req.Attachments {
		if a.Name == "" || a.URL == "" {
			return fmt.Errorf("%w: attachment needs a name and a url", ErrInvalid)
		}
		if a.Size < 0 || a.Size > maxAttachmentSz {
			return fmt.Errorf("%w: attachment %q has an invalid size", ErrInvalid, a.Name)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
