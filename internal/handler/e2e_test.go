package handler

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/service0427/slot-inquiry/internal/inbox"
	"github.com/service0427/slot-inquiry/internal/lifecycle"
	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/notify"
	"github.com/service0427/slot-inquiry/internal/repository"
	"github.com/service0427/slot-inquiry/internal/thread"
	"github.com/service0427/slot-inquiry/internal/unread"
)

func clientFor(t *testing.T, srv *httptest.Server, actor model.Actor) *repository.Client {
	t.Helper()
	token, err := middleware.IssueToken(secret, actor, time.Hour)
	require.NoError(t, err)
	c, err := repository.NewClient(repository.ClientConfig{BaseURL: srv.URL, Token: token, Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

// A user opens a new inquiry from a slot page, support answers, and the
// user's badge and list follow along.
func TestClientCoreAgainstBackend(t *testing.T) {
	a := newAPI(t)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()
	ctx := context.Background()

	userRepo := clientFor(t, srv, owner)
	adminRepo := clientFor(t, srv, admin)
	bus := notify.NewBus()

	list := inbox.New(userRepo, owner, bus, nil)
	defer list.Close()
	page, err := list.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, page.Inquiries)

	poller := unread.New(unread.Config{UserID: owner.UserID, Interval: time.Hour}, userRepo, bus, nil)
	require.NoError(t, poller.Start(ctx))
	defer poller.Stop()

	// First message creates the inquiry.
	userThread := thread.New(userRepo, owner, bus, nil)
	require.NoError(t, userThread.OpenForSlot(ctx, "S123", model.CreateInquiryRequest{}))
	require.Equal(t, thread.ModeComposeNew, userThread.Snapshot().Mode)

	userThread.SetDraft("My slot S123 is not showing up")
	sent, err := userThread.Send(ctx)
	require.NoError(t, err)
	require.False(t, model.IsTempID(sent.ID))

	snap := userThread.Snapshot()
	require.Equal(t, thread.ModeExisting, snap.Mode)
	require.Equal(t, "S123", snap.Inquiry.SlotID)
	require.Len(t, snap.Entries, 1)
	require.Empty(t, snap.Pending)
	inquiryID := snap.Inquiry.ID

	require.Eventually(t, func() bool {
		p := list.Page()
		return p != nil && len(p.Inquiries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Support replies and resolves.
	adminThread := thread.New(adminRepo, admin, notify.NewBus(), nil)
	require.NoError(t, adminThread.Open(ctx, inquiryID))
	adminThread.SetDraft("Fixed, please check again")
	_, err = adminThread.Send(ctx)
	require.NoError(t, err)
	_, err = adminThread.ChangeStatus(ctx, model.StatusResolved)
	require.NoError(t, err)
	adminThread.Close()

	poller.Trigger()
	require.Eventually(t, func() bool {
		n, _ := poller.Count()
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The user sees the reply, closes the inquiry, and leaves.
	require.NoError(t, userThread.Refresh(ctx))
	snap = userThread.Snapshot()
	require.Len(t, snap.Entries, 2)
	require.Equal(t, model.StatusResolved, snap.Status)

	_, err = userThread.ChangeStatus(ctx, model.StatusClosed)
	require.NoError(t, err)
	userThread.SetDraft("thanks")
	_, err = userThread.Send(ctx)
	require.ErrorIs(t, err, lifecycle.ErrClosed)

	// Reopening the thread marks the reply read; closing it refreshes the badge.
	require.NoError(t, userThread.Open(ctx, inquiryID))
	userThread.Close()
	require.Eventually(t, func() bool {
		n, _ := poller.Count()
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		p := list.Page()
		return p != nil && len(p.Inquiries) == 1 && p.Inquiries[0].Status == model.StatusClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRepositoryErrorsMapToSentinels(t *testing.T) {
	a := newAPI(t)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()
	ctx := context.Background()

	userRepo := clientFor(t, srv, owner)
	_, err := userRepo.GetInquiry(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = userRepo.ListInquiries(ctx, model.InquiryFilter{UserID: "u2"})
	require.ErrorIs(t, err, repository.ErrForbidden)

	inq, err := userRepo.CreateInquiry(ctx, model.CreateInquiryRequest{Title: "t"}, owner)
	require.NoError(t, err)
	_, err = userRepo.UpdateInquiryStatus(ctx, inq.ID, model.StatusResolved, owner)
	require.ErrorIs(t, err, repository.ErrForbidden)

	// A request on behalf of someone else is refused outright.
	_, err = userRepo.CreateInquiry(ctx, model.CreateInquiryRequest{Title: "t"}, stranger)
	require.ErrorIs(t, err, repository.ErrForbidden)
}
