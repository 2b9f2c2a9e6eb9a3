package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/pkg/logger"
)

const secret = "test-secret"

var user = model.Actor{UserID: "u1", Role: model.RoleUser, Name: "Kim", Email: "kim@example.com"}

func echoActor(t *testing.T, got *model.Actor) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetActor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func authed(t *testing.T, actor model.Actor) *http.Request {
	t.Helper()
	token, err := IssueToken(secret, actor, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inquiries", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAuthSetsActor(t *testing.T) {
	var got model.Actor
	h := Auth(secret)(echoActor(t, &got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(t, user))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, user, got)
}

func TestAuthRejections(t *testing.T) {
	h := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	expired, err := IssueToken(secret, user, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("other-secret", user, time.Minute)
	require.NoError(t, err)
	roleless, err := IssueToken(secret, model.Actor{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer abc"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + foreign},
		{"no role", "Bearer " + roleless},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthActingUserMustMatch(t *testing.T) {
	var got model.Actor
	h := Auth(secret)(echoActor(t, &got))

	req := authed(t, user)
	req.Header.Set(ActingUserHeader, "u2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = authed(t, user)
	req.Header.Set(ActingUserHeader, "u1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	h := Auth(secret)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(t, user))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, authed(t, model.Actor{UserID: "a1", Role: model.RoleAdmin}))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoggingSeesActorAndCorrelationID(t *testing.T) {
	var correlationID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})
	h := Logging(logger.Nop())(Auth(secret)(inner))

	req := authed(t, user)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "corr-1", correlationID)
	require.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
}

func TestUserRateLimit(t *testing.T) {
	h := Auth(secret)(UserRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authed(t, user))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	// Another user has their own budget.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authed(t, model.Actor{UserID: "u2", Role: model.RoleUser}))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestParseInquiryFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?user_id=u1&status=open&slot_id=S1&page=2&page_size=500", nil)
	f, err := ParseInquiryFilter(req)
	require.NoError(t, err)
	require.Equal(t, model.InquiryFilter{UserID: "u1", Status: model.StatusOpen, SlotID: "S1", Page: 2, PageSize: model.MaxPageSize}, f)

	for _, q := range []string{"status=lost", "page=0", "page=x", "page_size=-1"} {
		_, err := ParseInquiryFilter(httptest.NewRequest(http.MethodGet, "/?"+q, nil))
		require.Error(t, err, q)
	}
}

func TestValidateID(t *testing.T) {
	require.NoError(t, ValidateID("inquiry", "0190a1b2-c3d4"))
	require.Error(t, ValidateID("inquiry", ""))
	require.Error(t, ValidateID("inquiry", model.TempIDPrefix+"1-1"))
	require.Error(t, ValidateID("inquiry", string(make([]byte, maxIDLength+1))))
}
