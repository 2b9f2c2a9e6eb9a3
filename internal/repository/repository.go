// Package repository is the typed gateway to the inquiry backend.
//
// The gateway owns no state: every call is a single request/response. It never
// adds an implicit scope to listings and never retries, because creating an
// inquiry and sending a message are not idempotent.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/service0427/slot-inquiry/internal/model"
)

// Repository is the contract between the client core and the backend.
type Repository interface {
	ListInquiries(ctx context.Context, filter model.InquiryFilter) (*model.InquiryPage, error)
	GetInquiry(ctx context.Context, id string) (*model.Inquiry, error)
	CreateInquiry(ctx context.Context, req model.CreateInquiryRequest, actor model.Actor) (*model.Inquiry, error)
	UpdateInquiryStatus(ctx context.Context, id string, status model.Status, actor model.Actor) (*model.Inquiry, error)
	ListMessages(ctx context.Context, inquiryID string) ([]model.InquiryMessage, error)
	SendMessage(ctx context.Context, req model.SendMessageRequest, actor model.Actor) (*model.InquiryMessage, error)
	GetUnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, inquiryID string, actor model.Actor) error
}

// Sentinel causes, matched with errors.Is against an *Error.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid request")
	ErrUnavailable  = errors.New("backend unavailable")
)

// Error is returned by every failed repository operation.
type Error struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("repository %s: status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("repository %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is maps HTTP statuses onto the sentinel causes.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrInvalid:
		return e.StatusCode == http.StatusBadRequest
	case ErrUnavailable:
		return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// NewError wraps cause as a repository failure of op.
func NewError(op string, statusCode int, cause error) *Error {
	return &Error{Op: op, StatusCode: statusCode, Cause: cause}
}
