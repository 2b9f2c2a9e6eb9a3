// Package store persists inquiries and their threads in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/service0427/slot-inquiry/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update lost a race.
	ErrConflict = errors.New("conflicting update")
)

const schema = `
CREATE TABLE IF NOT EXISTS inquiries (
	id                TEXT PRIMARY KEY,
	code              TEXT NOT NULL UNIQUE,
	title             TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	priority          TEXT NOT NULL,
	status            TEXT NOT NULL,
	slot_id           TEXT NOT NULL DEFAULT '',
	user_id           TEXT NOT NULL,
	assigned_admin_id TEXT NOT NULL DEFAULT '',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	last_message_at   INTEGER NOT NULL DEFAULT 0,
	message_count     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_inquiries_user ON inquiries (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_inquiries_slot ON inquiries (slot_id);

CREATE TABLE IF NOT EXISTS inquiry_messages (
	id           TEXT PRIMARY KEY,
	inquiry_id   TEXT NOT NULL REFERENCES inquiries (id),
	sender_id    TEXT NOT NULL,
	sender_role  TEXT NOT NULL,
	sender_name  TEXT NOT NULL DEFAULT '',
	sender_email TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	attachments  TEXT NOT NULL DEFAULT '[]',
	is_read      INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_inquiry ON inquiry_messages (inquiry_id, created_at);
`

// Store is the SQLite-backed persistence of the reference backend.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database at dsn and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway, and an in-memory database only
	// exists on its own connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type inquiryRow struct {
	ID              string `db:"id"`
	Code            string `db:"code"`
	Title           string `db:"title"`
	Category        string `db:"category"`
	Priority        string `db:"priority"`
	Status          string `db:"status"`
	SlotID          string `db:"slot_id"`
	UserID          string `db:"user_id"`
	AssignedAdminID string `db:"assigned_admin_id"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
	LastMessageAt   int64  `db:"last_message_at"`
	MessageCount    int    `db:"message_count"`
}

func (r inquiryRow) model() model.Inquiry {
	return model.Inquiry{
		ID:              r.ID,
		Code:            r.Code,
		Title:           r.Title,
		Category:        r.Category,
		Priority:        model.Priority(r.Priority),
		Status:          model.Status(r.Status),
		SlotID:          r.SlotID,
		UserID:          r.UserID,
		AssignedAdminID: r.AssignedAdminID,
		CreatedAt:       fromNanos(r.CreatedAt),
		UpdatedAt:       fromNanos(r.UpdatedAt),
		LastMessageAt:   fromNanos(r.LastMessageAt),
		MessageCount:    r.MessageCount,
	}
}

type messageRow struct {
	ID          string `db:"id"`
	InquiryID   string `db:"inquiry_id"`
	SenderID    string `db:"sender_id"`
	SenderRole  string `db:"sender_role"`
	SenderName  string `db:"sender_name"`
	SenderEmail string `db:"sender_email"`
	Body        string `db:"body"`
	Attachments string `db:"attachments"`
	IsRead      bool   `db:"is_read"`
	CreatedAt   int64  `db:"created_at"`
}

func (r messageRow) model() (model.InquiryMessage, error) {
	msg := model.InquiryMessage{
		ID:          r.ID,
		InquiryID:   r.InquiryID,
		SenderID:    r.SenderID,
		SenderRole:  model.Role(r.SenderRole),
		SenderName:  r.SenderName,
		SenderEmail: r.SenderEmail,
		Body:        r.Body,
		IsRead:      r.IsRead,
		CreatedAt:   fromNanos(r.CreatedAt),
	}
	if r.Attachments != "" && r.Attachments != "[]" {
		if err := json.Unmarshal([]byte(r.Attachments), &msg.Attachments); err != nil {
			return msg, fmt.Errorf("failed to decode attachments of %s: %w", r.ID, err)
		}
	}
	return msg, nil
}

// Timestamps are stored as unix nanoseconds; zero means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// CreateInquiry inserts inq and assigns its code when empty. Codes look
// like INQ-20240501-0001 and count up per UTC day.
func (s *Store) CreateInquiry(ctx context.Context, inq *model.Inquiry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if inq.Code == "" {
		prefix := "INQ-" + inq.CreatedAt.UTC().Format("20060102") + "-"
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM inquiries WHERE code LIKE ?`, prefix+"%"); err != nil {
			return fmt.Errorf("failed to count daily inquiries: %w", err)
		}
		inq.Code = fmt.Sprintf("%s%04d", prefix, n+1)
	}

	row := inquiryRow{
		ID:              inq.ID,
		Code:            inq.Code,
		Title:           inq.Title,
		Category:        inq.Category,
		Priority:        string(inq.Priority),
		Status:          string(inq.Status),
		SlotID:          inq.SlotID,
		UserID:          inq.UserID,
		AssignedAdminID: inq.AssignedAdminID,
		CreatedAt:       toNanos(inq.CreatedAt),
		UpdatedAt:       toNanos(inq.UpdatedAt),
		LastMessageAt:   toNanos(inq.LastMessageAt),
		MessageCount:    inq.MessageCount,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO inquiries (id, code, title, category, priority, status, slot_id, user_id,
			assigned_admin_id, created_at, updated_at, last_message_at, message_count)
		VALUES (:id, :code, :title, :category, :priority, :status, :slot_id, :user_id,
			:assigned_admin_id, :created_at, :updated_at, :last_message_at, :message_count)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert inquiry: %w", err)
	}
	return tx.Commit()
}

// GetInquiry loads one inquiry.
func (s *Store) GetInquiry(ctx context.Context, id string) (*model.Inquiry, error) {
	var row inquiryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM inquiries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inquiry: %w", err)
	}
	inq := row.model()
	return &inq, nil
}

// ListInquiries returns one page of inquiries matching filter, most recent
// first.
func (s *Store) ListInquiries(ctx context.Context, filter model.InquiryFilter) (*model.InquiryPage, error) {
	f := filter.Normalize()

	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.SlotID != "" {
		where = append(where, "slot_id = ?")
		args = append(args, f.SlotID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM inquiries"+clause, args...); err != nil {
		return nil, fmt.Errorf("failed to count inquiries: %w", err)
	}

	var rows []inquiryRow
	query := "SELECT * FROM inquiries" + clause + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	if err := s.db.SelectContext(ctx, &rows, query, append(args, f.PageSize, f.Offset())...); err != nil {
		return nil, fmt.Errorf("failed to list inquiries: %w", err)
	}

	page := &model.InquiryPage{
		Inquiries: make([]model.Inquiry, 0, len(rows)),
		Total:     total,
		Page:      f.Page,
		PageSize:  f.PageSize,
		HasMore:   f.Offset()+len(rows) < total,
	}
	for _, r := range rows {
		page.Inquiries = append(page.Inquiries, r.model())
	}
	return page, nil
}

// UpdateStatus moves an inquiry from one status to another. It fails with
// ErrConflict when the stored status is no longer from.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to model.Status, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inquiries SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), toNanos(at), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n == 0 {
		if _, err := s.GetInquiry(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// InsertMessage appends msg to its thread and bumps the inquiry's counters.
func (s *Store) InsertMessage(ctx context.Context, msg *model.InquiryMessage) error {
	attachments := "[]"
	if len(msg.Attachments) > 0 {
		b, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		attachments = string(b)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := messageRow{
		ID:          msg.ID,
		InquiryID:   msg.InquiryID,
		SenderID:    msg.SenderID,
		SenderRole:  string(msg.SenderRole),
		SenderName:  msg.SenderName,
		SenderEmail: msg.SenderEmail,
		Body:        msg.Body,
		Attachments: attachments,
		IsRead:      msg.IsRead,
		CreatedAt:   toNanos(msg.CreatedAt),
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO inquiry_messages (id, inquiry_id, sender_id, sender_role, sender_name,
			sender_email, body, attachments, is_read, created_at)
		VALUES (:id, :inquiry_id, :sender_id, :sender_role, :sender_name,
			:sender_email, :body, :attachments, :is_read, :created_at)`, row); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE inquiries
		SET message_count = message_count + 1, last_message_at = ?, updated_at = ?
		WHERE id = ?`, row.CreatedAt, row.CreatedAt, msg.InquiryID)
	if err != nil {
		return fmt.Errorf("failed to update inquiry counters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListMessages returns the thread of an inquiry in creation order.
func (s *Store) ListMessages(ctx context.Context, inquiryID string) ([]model.InquiryMessage, error) {
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM inquiry_messages WHERE inquiry_id = ? ORDER BY created_at, rowid`, inquiryID); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	out := make([]model.InquiryMessage, 0, len(rows))
	for _, r := range rows {
		msg, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// UnreadCount counts messages waiting for the reader. Users count unread
// replies in their own inquiries; admins count unread user messages in
// every inquiry.
func (s *Store) UnreadCount(ctx context.Context, reader model.Actor) (int, error) {
	var n int
	var err error
	if reader.IsAdmin() {
		err = s.db.GetContext(ctx, &n,
			`SELECT COUNT(*) FROM inquiry_messages WHERE is_read = 0 AND sender_role = ?`, string(model.RoleUser))
	} else {
		err = s.db.GetContext(ctx, &n, `
			SELECT COUNT(*) FROM inquiry_messages m
			JOIN inquiries i ON i.id = m.inquiry_id
			WHERE m.is_read = 0 AND i.user_id = ? AND m.sender_id != ?`, reader.UserID, reader.UserID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

// MarkRead marks the messages of an inquiry that are addressed to reader as
// read and reports how many changed.
func (s *Store) MarkRead(ctx context.Context, inquiryID string, reader model.Actor) (int64, error) {
	var res sql.Result
	var err error
	if reader.IsAdmin() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE inquiry_messages SET is_read = 1 WHERE inquiry_id = ? AND is_read = 0 AND sender_role = ?`,
			inquiryID, string(model.RoleUser))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE inquiry_messages SET is_read = 1 WHERE inquiry_id = ? AND is_read = 0 AND sender_id != ?`,
			inquiryID, reader.UserID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return res.RowsAffected()
}
