// Package render turns an ordered thread into display rows.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/service0427/slot-inquiry/internal/model"
)

// TimestampLayout is the minute-granularity format shown under messages.
const TimestampLayout = "2006-01-02 15:04"

// Row is the presentation of one message.
type Row struct {
	Message model.InquiryMessage
	// Mine is set for messages sent by the viewer.
	Mine bool
	// Pending is set while the message carries a temporary id.
	Pending bool

	ShowSender    bool
	ShowTimestamp bool
	ShowReadState bool

	Sender      string
	Timestamp   string
	Attachments []AttachmentRow
}

// AttachmentRow is an attachment in insertion order with a readable size.
type AttachmentRow struct {
	Name     string
	URL      string
	Size     string
	MimeType string
}

// Group computes the rows for messages as seen by viewerID. The sender
// header is hidden when the previous message has the same sender. The
// timestamp is hidden when the next message has the same sender and the
// same formatted minute, so a burst shows one timestamp on its last
// message. Read state follows the viewer's own timestamps.
func Group(messages []model.InquiryMessage, viewerID string, loc *time.Location) []Row {
	if loc == nil {
		loc = time.UTC
	}
	stamps := make([]string, len(messages))
	for i := range messages {
		stamps[i] = messages[i].CreatedAt.In(loc).Format(TimestampLayout)
	}

	rows := make([]Row, len(messages))
	for i, msg := range messages {
		mine := msg.SenderID == viewerID
		row := Row{
			Message:       msg,
			Mine:          mine,
			Pending:       model.IsTempID(msg.ID),
			ShowSender:    i == 0 || messages[i-1].SenderID != msg.SenderID,
			ShowTimestamp: true,
			Sender:        senderLabel(msg),
			Timestamp:     stamps[i],
			Attachments:   attachmentRows(msg.Attachments),
		}
		if i+1 < len(messages) && messages[i+1].SenderID == msg.SenderID && stamps[i+1] == stamps[i] {
			row.ShowTimestamp = false
		}
		row.ShowReadState = mine && row.ShowTimestamp && !row.Pending
		rows[i] = row
	}
	return rows
}

func senderLabel(msg model.InquiryMessage) string {
	switch {
	case msg.SenderName != "":
		return msg.SenderName
	case msg.SenderRole == model.RoleAdmin:
		return "Support"
	case msg.SenderEmail != "":
		return msg.SenderEmail
	}
	return msg.SenderID
}

func attachmentRows(in []model.Attachment) []AttachmentRow {
	if len(in) == 0 {
		return nil
	}
	out := make([]AttachmentRow, len(in))
	for i, a := range in {
		out[i] = AttachmentRow{
			Name:     a.Name,
			URL:      a.URL,
			Size:     humanize.Bytes(uint64(max(a.Size, 0))),
			MimeType: a.MimeType,
		}
	}
	return out
}

// Text writes rows as a plain-text transcript.
func Text(w io.Writer, rows []Row) error {
	var b strings.Builder
	for _, r := range rows {
		if r.ShowSender {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			who := r.Sender
			if r.Mine {
				who += " (me)"
			}
			fmt.Fprintf(&b, "[%s]\n", who)
		}
		for _, line := range strings.Split(r.Message.Body, "\n") {
			if line == "" && r.Message.Body == "" {
				continue
			}
			fmt.Fprintf(&b, "  %s\n", line)
		}
		for _, a := range r.Attachments {
			fmt.Fprintf(&b, "  + %s (%s)\n", a.Name, a.Size)
		}
		var footer []string
		if r.Pending {
			footer = append(footer, "sending...")
		}
		if r.ShowTimestamp {
			footer = append(footer, r.Timestamp)
		}
		if r.ShowReadState {
			if r.Message.IsRead {
				footer = append(footer, "read")
			} else {
				footer = append(footer, "unread")
			}
		}
		if len(footer) > 0 {
			fmt.Fprintf(&b, "    %s\n", strings.Join(footer, " · "))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
