package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/service0427/slot-inquiry/internal/model"
)

const maxIDLength = 128

// ValidateID validates a path or query identifier.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s ID cannot be empty", kind)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s ID exceeds maximum length", kind)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s ID must be valid UTF-8", kind)
	}
	if model.IsTempID(id) {
		return fmt.Errorf("%s ID is a provisional id", kind)
	}
	return nil
}

// ValidateStatus validates a requested inquiry status.
func ValidateStatus(status model.Status) error {
	if !status.Valid() {
		return errors.New("unknown inquiry status")
	}
	return nil
}

// ParseInquiryFilter reads user_id, status, slot_id, page and page_size
// from the query string.
func ParseInquiryFilter(r *http.Request) (model.InquiryFilter, error) {
	q := r.URL.Query()
	f := model.InquiryFilter{
		UserID: q.Get("user_id"),
		Status: model.Status(q.Get("status")),
		SlotID: q.Get("slot_id"),
	}
	if f.Status != "" {
		if err := ValidateStatus(f.Status); err != nil {
			return f, err
		}
	}
	var err error
	if f.Page, err = parsePositive(q.Get("page")); err != nil {
		return f, fmt.Errorf("invalid page: %w", err)
	}
	if f.PageSize, err = parsePositive(q.Get("page_size")); err != nil {
		return f, fmt.Errorf("invalid page_size: %w", err)
	}
	return f.Normalize(), nil
}

func parsePositive(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}
