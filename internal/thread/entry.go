package thread

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/service0427/slot-inquiry/internal/model"
)

// Delivery is the confirmation state of one thread entry. It is either
// Pending or Confirmed; reconciliation switches on the concrete type.
type Delivery interface {
	delivery()
}

// Pending marks a message shown optimistically and not yet acknowledged.
type Pending struct {
	TempID string
}

// Confirmed marks a message the backend has persisted.
type Confirmed struct {
	ServerID string
}

func (Pending) delivery()   {}
func (Confirmed) delivery() {}

// Entry is one message of the visible thread.
type Entry struct {
	Message  model.InquiryMessage
	Delivery Delivery
}

// Key returns the id the entry is reconciled by.
func (e Entry) Key() string {
	switch d := e.Delivery.(type) {
	case Pending:
		return d.TempID
	case Confirmed:
		return d.ServerID
	}
	return e.Message.ID
}

// IsPending reports whether the entry awaits confirmation.
func (e Entry) IsPending() bool {
	_, ok := e.Delivery.(Pending)
	return ok
}

func confirmedEntry(msg model.InquiryMessage) Entry {
	return Entry{Message: msg, Delivery: Confirmed{ServerID: msg.ID}}
}

var tempSeq atomic.Uint64

// newTempID returns an id that is unique for the life of the process and
// can never collide with a server id.
func newTempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%d", model.TempIDPrefix, now.UnixNano(), tempSeq.Add(1))
}

// merge builds the confirmed record for a provisional message. Server fields
// win; locally known display fields fill whatever the response omitted.
func merge(local, server model.InquiryMessage) model.InquiryMessage {
	out := server
	if out.InquiryID == "" {
		out.InquiryID = local.InquiryID
	}
	if out.SenderID == "" {
		out.SenderID = local.SenderID
	}
	if out.SenderRole == "" {
		out.SenderRole = local.SenderRole
	}
	if out.SenderName == "" {
		out.SenderName = local.SenderName
	}
	if out.SenderEmail == "" {
		out.SenderEmail = local.SenderEmail
	}
	if out.Body == "" && len(out.Attachments) == 0 {
		out.Body = local.Body
		out.Attachments = local.Attachments
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = local.CreatedAt
	}
	return out
}

// sortEntries keeps the thread ordered by creation time. Ties keep their
// current relative order.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Message.CreatedAt.Before(entries[j].Message.CreatedAt)
	})
}

func indexOf(entries []Entry, key string) int {
	for i := range entries {
		if entries[i].Key() == key {
			return i
		}
	}
	return -1
}
