package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/service0427/slot-inquiry/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Token: "tok", Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	require.Error(t, err)
}

func TestListInquiriesPassesFilterVerbatim(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/inquiries", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		writeJSON(w, http.StatusOK, model.InquiryPage{
			Inquiries: []model.Inquiry{{ID: "i1", Status: model.StatusOpen}},
			Total:     1,
			Page:      2,
			PageSize:  10,
		})
	}))

	page, err := c.ListInquiries(context.Background(), model.InquiryFilter{
		UserID: "u1", Status: model.StatusResolved, SlotID: "S123", Page: 2, PageSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Inquiries, 1)
	require.Equal(t, map[string]string{
		"user_id": "u1", "status": "resolved", "slot_id": "S123", "page": "2", "page_size": "10",
	}, gotQuery)
}

func TestListInquiriesAddsNoImplicitScope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.URL.RawQuery)
		writeJSON(w, http.StatusOK, model.InquiryPage{})
	}))

	_, err := c.ListInquiries(context.Background(), model.InquiryFilter{})
	require.NoError(t, err)
}

func TestGetInquiryNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "inquiry not found"})
	}))

	_, err := c.GetInquiry(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	var repoErr *Error
	require.True(t, errors.As(err, &repoErr))
	require.Equal(t, "GetInquiry", repoErr.Op)
	require.Contains(t, repoErr.Error(), "inquiry not found")
}

func TestSendMessageCarriesActorAndDisplayFields(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/inquiries/inq-1/messages", r.URL.Path)
		require.Equal(t, "u1", r.Header.Get(ActingUserHeader))

		var req model.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Hello", req.Body)
		require.Equal(t, "Kim", req.SenderName)

		writeJSON(w, http.StatusCreated, model.InquiryMessage{
			ID: "m-1", InquiryID: "inq-1", SenderID: "u1", SenderRole: model.RoleUser, Body: req.Body,
		})
	}))

	msg, err := c.SendMessage(context.Background(),
		model.SendMessageRequest{InquiryID: "inq-1", Body: "Hello"},
		model.Actor{UserID: "u1", Role: model.RoleUser, Name: "Kim"})
	require.NoError(t, err)
	require.Equal(t, "m-1", msg.ID)
}

func TestSendMessageIsNotRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "try later"})
	}))

	_, err := c.SendMessage(context.Background(), model.SendMessageRequest{InquiryID: "inq-1", Body: "x"}, model.Actor{UserID: "u1"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 1, calls)
}

func TestUpdateInquiryStatusConflict(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.UpdateStatusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, model.StatusClosed, req.Status)
		writeJSON(w, http.StatusConflict, map[string]string{"error": "inquiry is closed"})
	}))

	_, err := c.UpdateInquiryStatus(context.Background(), "inq-1", model.StatusClosed, model.Actor{UserID: "u1"})
	require.ErrorIs(t, err, ErrConflict)
	require.False(t, errors.Is(err, ErrForbidden))
}

func TestGetUnreadCount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/users/u1/unread-count", r.URL.Path)
		writeJSON(w, http.StatusOK, model.UnreadCountResponse{UserID: "u1", Count: 4})
	}))

	n, err := c.GetUnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestTransportFailureIsRepositoryError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)

	err = c.MarkRead(context.Background(), "inq-1", model.Actor{UserID: "u1"})
	var repoErr *Error
	require.True(t, errors.As(err, &repoErr))
	require.Zero(t, repoErr.StatusCode)
	require.ErrorIs(t, err, ErrUnavailable)
}
