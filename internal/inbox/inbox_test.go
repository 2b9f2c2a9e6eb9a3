package inbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/notify"
	"github.com/service0427/slot-inquiry/internal/repository"
	"github.com/service0427/slot-inquiry/internal/repository/repotest"
)

var (
	user  = model.Actor{UserID: "u1", Role: model.RoleUser}
	admin = model.Actor{UserID: "a1", Role: model.RoleAdmin}
)

func seed(t *testing.T) *repotest.Fake {
	t.Helper()
	repo := repotest.New()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := []struct {
		id, userID, slot string
		status           model.Status
	}{
		{"i1", "u1", "S1", model.StatusOpen},
		{"i2", "u1", "S2", model.StatusResolved},
		{"i3", "u2", "S1", model.StatusOpen},
		{"i4", "u2", "S3", model.StatusInProgress},
		{"i5", "u1", "S1", model.StatusClosed},
	}
	for i, r := range rows {
		repo.Seed(model.Inquiry{
			ID:        r.id,
			Code:      fmt.Sprintf("INQ-20240501-%03d", i+1),
			UserID:    r.userID,
			SlotID:    r.slot,
			Status:    r.status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return repo
}

// recordFilters captures every filter the controller sends.
func recordFilters(repo *repotest.Fake) func() []model.InquiryFilter {
	var mu sync.Mutex
	var seen []model.InquiryFilter
	repo.OnListInquiries = func(_ context.Context, f model.InquiryFilter) error {
		mu.Lock()
		seen = append(seen, f)
		mu.Unlock()
		return nil
	}
	return func() []model.InquiryFilter {
		mu.Lock()
		defer mu.Unlock()
		return append([]model.InquiryFilter(nil), seen...)
	}
}

func ids(page *model.InquiryPage) []string {
	out := make([]string, 0, len(page.Inquiries))
	for _, inq := range page.Inquiries {
		out = append(out, inq.ID)
	}
	return out
}

func TestUserListingIsScopedToSelf(t *testing.T) {
	repo := seed(t)
	filters := recordFilters(repo)
	c := New(repo, user, nil, nil)
	defer c.Close()

	page, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"i5", "i2", "i1"}, ids(page))
	require.Equal(t, "u1", filters()[0].UserID)

	_, err = c.SetUser(context.Background(), "u2")
	require.ErrorIs(t, err, ErrAdminOnly)
	require.Equal(t, "u1", c.Filter().UserID)
	require.Len(t, filters(), 1)
}

func TestAdminListingIsUnrestricted(t *testing.T) {
	repo := seed(t)
	filters := recordFilters(repo)
	c := New(repo, admin, nil, nil)
	defer c.Close()

	page, err := c.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Empty(t, filters()[0].UserID)

	page, err = c.SetUser(context.Background(), "u2")
	require.NoError(t, err)
	require.Equal(t, []string{"i4", "i3"}, ids(page))
}

func TestFilterChangesFetchFresh(t *testing.T) {
	repo := seed(t)
	c := New(repo, user, nil, nil)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Load(ctx)
	require.NoError(t, err)

	page, err := c.SetStatus(ctx, model.StatusOpen)
	require.NoError(t, err)
	require.Equal(t, []string{"i1"}, ids(page))

	page, err = c.SetStatus(ctx, "")
	require.NoError(t, err)
	require.Len(t, page.Inquiries, 3)

	page, err = c.SetSlot(ctx, "S1")
	require.NoError(t, err)
	require.Equal(t, []string{"i5", "i1"}, ids(page))

	require.Equal(t, 4, repo.Calls(repotest.OpListInquiries))
}

func TestPagination(t *testing.T) {
	repo := seed(t)
	c := New(repo, admin, nil, nil)
	defer c.Close()
	ctx := context.Background()

	page, err := c.SetPageSize(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"i5", "i4"}, ids(page))
	require.True(t, page.HasMore)

	page, err = c.SetPage(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"i1"}, ids(page))
	require.False(t, page.HasMore)

	// A filter change returns to the first page.
	page, err = c.SetStatus(ctx, model.StatusOpen)
	require.NoError(t, err)
	require.Equal(t, 1, page.Page)
	require.Equal(t, []string{"i3", "i1"}, ids(page))
}

func TestLoadFailureKeepsLastPage(t *testing.T) {
	repo := seed(t)
	c := New(repo, user, nil, nil)
	defer c.Close()

	_, err := c.Load(context.Background())
	require.NoError(t, err)

	repo.Fail(repotest.OpListInquiries, 1)
	_, err = c.Load(context.Background())
	require.ErrorIs(t, err, repository.ErrUnavailable)

	v := c.View()
	require.Error(t, v.Err)
	require.NotNil(t, v.Page)
	require.Len(t, v.Page.Inquiries, 3)
}

func TestSupersededFetchIsDiscarded(t *testing.T) {
	repo := seed(t)
	release := make(chan struct{})
	entered := make(chan struct{})
	repo.OnListInquiries = func(_ context.Context, f model.InquiryFilter) error {
		if f.Status == model.StatusResolved {
			close(entered)
			<-release
		}
		return nil
	}
	c := New(repo, user, nil, nil)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.SetStatus(context.Background(), model.StatusResolved)
	}()
	<-entered

	page, err := c.SetStatus(context.Background(), model.StatusOpen)
	require.NoError(t, err)
	require.Equal(t, []string{"i1"}, ids(page))

	close(release)
	<-done
	require.Equal(t, []string{"i1"}, ids(c.Page()))
}

func TestEventsInvalidateListing(t *testing.T) {
	repo := seed(t)
	bus := notify.NewBus()
	c := New(repo, user, bus, nil)
	defer c.Close()

	_, err := c.SetStatus(context.Background(), model.StatusOpen)
	require.NoError(t, err)
	require.Equal(t, []string{"i1"}, ids(c.Page()))

	_, err = repo.UpdateInquiryStatus(context.Background(), "i1", model.StatusClosed, user)
	require.NoError(t, err)
	bus.Publish(notify.Event{Kind: notify.StatusChanged, InquiryID: "i1", Status: model.StatusClosed, Inquiry: repo.Inquiry("i1")})

	require.Eventually(t, func() bool {
		v := c.View()
		return !v.Stale && v.Page != nil && len(v.Page.Inquiries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEventsForOtherUsersAreIgnored(t *testing.T) {
	repo := seed(t)
	bus := notify.NewBus()
	c := New(repo, user, bus, nil)
	defer c.Close()

	_, err := c.Load(context.Background())
	require.NoError(t, err)

	bus.Publish(notify.Event{Kind: notify.InquiryCreated, InquiryID: "i3", Inquiry: repo.Inquiry("i3")})
	bus.Publish(notify.Event{Kind: notify.Kind("unrelated")})

	c.wg.Wait()
	require.Equal(t, 1, repo.Calls(repotest.OpListInquiries))
	require.False(t, c.View().Stale)
}

func TestCloseStopsListening(t *testing.T) {
	repo := seed(t)
	bus := notify.NewBus()
	c := New(repo, admin, bus, nil)

	var views []View
	var mu sync.Mutex
	c.OnChange(func(v View) {
		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})
	_, err := c.Load(context.Background())
	require.NoError(t, err)
	c.Close()

	bus.Publish(notify.Event{Kind: notify.ThreadClosed, InquiryID: "i1"})
	require.Equal(t, 1, repo.Calls(repotest.OpListInquiries))
	require.Zero(t, bus.Len())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 1)
	require.NoError(t, views[0].Err)
}

func TestInvalidateAfterCloseIsIgnored(t *testing.T) {
	repo := seed(t)
	c := New(repo, admin, notify.NewBus(), nil)
	_, err := c.Load(context.Background())
	require.NoError(t, err)
	c.Close()

	// A handler copied by Publish before Close unsubscribed may still run.
	c.handleEvent(notify.Event{Kind: notify.ThreadClosed, InquiryID: "i1"})
	c.Invalidate()
	c.wg.Wait()

	require.Equal(t, 1, repo.Calls(repotest.OpListInquiries))
	require.False(t, c.View().Stale)
}

func TestSetFilterFetchesOnce(t *testing.T) {
	repo := seed(t)
	ctx := context.Background()

	c := New(repo, user, nil, nil)
	defer c.Close()
	page, err := c.SetFilter(ctx, model.InquiryFilter{Status: model.StatusOpen, SlotID: "S1"})
	require.NoError(t, err)
	require.Equal(t, []string{"i1"}, ids(page))
	require.Equal(t, 1, repo.Calls(repotest.OpListInquiries))

	_, err = c.SetFilter(ctx, model.InquiryFilter{UserID: "u2"})
	require.ErrorIs(t, err, ErrAdminOnly)
	require.Equal(t, 1, repo.Calls(repotest.OpListInquiries))

	a := New(repo, admin, nil, nil)
	defer a.Close()
	page, err = a.SetFilter(ctx, model.InquiryFilter{UserID: "u2", Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"i3"}, ids(page))
	require.Equal(t, model.InquiryFilter{UserID: "u2", Page: 2, PageSize: 1}, a.Filter())
	require.Equal(t, 2, repo.Calls(repotest.OpListInquiries))
}
