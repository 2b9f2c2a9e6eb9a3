// Package model defines data structures for the inquiry platform.
package model

import (
	"time"
)

// Status is the lifecycle state of an inquiry.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Priority is the urgency an inquiry was filed with.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Inquiry represents a 1:1 support thread between a user and the admins.
type Inquiry struct {
	ID              string    `json:"id"`
	Code            string    `json:"code,omitempty"`
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	Priority        Priority  `json:"priority"`
	Status          Status    `json:"status"`
	SlotID          string    `json:"slot_id,omitempty"`
	UserID          string    `json:"user_id"`
	AssignedAdminID string    `json:"assigned_admin_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastMessageAt   time.Time `json:"last_message_at,omitempty"`
	MessageCount    int       `json:"message_count"`
}

// CreateInquiryRequest is the request to open a new inquiry.
type CreateInquiryRequest struct {
	Title    string   `json:"title"`
	Category string   `json:"category,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	SlotID   string   `json:"slot_id,omitempty"`
}

// UpdateStatusRequest is the request to move an inquiry to another status.
type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

// InquiryFilter narrows an inquiry listing. Empty fields do not filter.
type InquiryFilter struct {
	UserID   string `json:"user_id,omitempty"`
	Status   Status `json:"status,omitempty"`
	SlotID   string `json:"slot_id,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds. Pages are 1-based.
func (f InquiryFilter) Normalize() InquiryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// Offset returns the row offset of the filter's page.
func (f InquiryFilter) Offset() int {
	n := f.Normalize()
	return (n.Page - 1) * n.PageSize
}

// InquiryPage is one page of a filtered inquiry listing.
type InquiryPage struct {
	Inquiries []Inquiry `json:"inquiries"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	PageSize  int       `json:"page_size"`
	HasMore   bool      `json:"has_more"`
}
