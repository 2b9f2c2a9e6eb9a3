package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/service0427/slot-inquiry/internal/handler"
	"github.com/service0427/slot-inquiry/internal/middleware"
	"github.com/service0427/slot-inquiry/internal/model"
	"github.com/service0427/slot-inquiry/internal/service"
	"github.com/service0427/slot-inquiry/internal/store"
)

const secret = "cli-secret"

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	inquiries := service.NewInquiryService(st, nil, nil)
	messages := service.NewMessageService(st, inquiries, nil, nil)
	srv := httptest.NewServer(handler.NewRouter(handler.RouterConfig{
		Inquiries: inquiries,
		Messages:  messages,
		JWTSecret: secret,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd("test", viper.New())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--api-url", srv.URL, "--jwt-secret", secret, "--timezone", "UTC"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func asUser(args ...string) []string {
	return append([]string{"--user", "u1", "--name", "Kim"}, args...)
}

func asAdmin(args ...string) []string {
	return append([]string{"--user", "a1", "--role", "admin", "--name", "Support"}, args...)
}

// firstID pulls the inquiry id out of list output.
func firstID(t *testing.T, listOutput string) string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(listOutput), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	fields := strings.Fields(lines[1])
	require.NotEmpty(t, fields)
	return fields[0]
}

func TestTokenCommand(t *testing.T) {
	srv := newBackend(t)

	out, err := run(t, srv, asAdmin("token", "--ttl", "1h")...)
	require.NoError(t, err)

	claims, err := middleware.ParseToken(secret, strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "a1", claims.Subject)
	require.Equal(t, model.RoleAdmin, claims.Role)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	var out bytes.Buffer
	t.Setenv("HOME", t.TempDir())
	cmd := NewRootCmd("test", viper.New())
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user", "u1", "token"})
	require.ErrorContains(t, cmd.Execute(), "jwt-secret")
}

func TestSessionValidation(t *testing.T) {
	srv := newBackend(t)

	_, err := run(t, srv, "list")
	require.ErrorContains(t, err, "--user is required")

	_, err = run(t, srv, "--user", "u1", "--role", "owner", "list")
	require.ErrorContains(t, err, "invalid role")
}

func TestConversationFlow(t *testing.T) {
	srv := newBackend(t)

	out, err := run(t, srv, asUser("send", "--slot", "slot-9", "Is the 3pm slot still free?")...)
	require.NoError(t, err)
	require.Contains(t, out, "[Kim (me)]")
	require.Contains(t, out, "Is the 3pm slot still free?")
	require.NotContains(t, out, "sending...")

	out, err = run(t, srv, asUser("list")...)
	require.NoError(t, err)
	require.Contains(t, out, "INQ-")
	require.Contains(t, out, "Is the 3pm slot still free?")
	require.Contains(t, out, "page 1 · 1 of 1 inquiries")
	id := firstID(t, out)

	// A second send about the same slot lands in the same inquiry.
	_, err = run(t, srv, asUser("send", "--slot", "slot-9", "Also, is parking included?")...)
	require.NoError(t, err)
	out, err = run(t, srv, asUser("list", "--slot", "slot-9")...)
	require.NoError(t, err)
	require.Contains(t, out, "page 1 · 1 of 1 inquiries")

	_, err = run(t, srv, asAdmin("send", id, "Yes, both.")...)
	require.NoError(t, err)

	out, err = run(t, srv, asUser("unread")...)
	require.NoError(t, err)
	require.Equal(t, "1", strings.TrimSpace(out))

	out, err = run(t, srv, asUser("show", id)...)
	require.NoError(t, err)
	require.Contains(t, out, "[Support]")
	require.Contains(t, out, "Yes, both.")

	out, err = run(t, srv, asUser("unread")...)
	require.NoError(t, err)
	require.Equal(t, "0", strings.TrimSpace(out))

	out, err = run(t, srv, asAdmin("status", id, "in_progress")...)
	require.NoError(t, err)
	require.Contains(t, out, "is now in_progress")

	_, err = run(t, srv, asUser("status", id, "resolved")...)
	require.Error(t, err)

	out, err = run(t, srv, asUser("close", id)...)
	require.NoError(t, err)
	require.Contains(t, out, "is now closed")

	_, err = run(t, srv, asUser("send", id, "one more thing")...)
	require.Error(t, err)
}

func TestListOwnerFilterIsAdminOnly(t *testing.T) {
	srv := newBackend(t)

	_, err := run(t, srv, asUser("list", "--owner", "u2")...)
	require.Error(t, err)

	_, err = run(t, srv, asUser("send", "--slot", "s1", "hello")...)
	require.NoError(t, err)

	out, err := run(t, srv, asAdmin("list", "--owner", "u1")...)
	require.NoError(t, err)
	require.Contains(t, out, "1 of 1 inquiries")

	out, err = run(t, srv, asAdmin("list", "--owner", "u2")...)
	require.NoError(t, err)
	require.Contains(t, out, "0 of 0 inquiries")
}

func TestSendArgumentShapes(t *testing.T) {
	srv := newBackend(t)

	_, err := run(t, srv, asUser("send", "only-a-body")...)
	require.ErrorContains(t, err, "--slot")

	_, err = run(t, srv, asUser("send", "--slot", "s1", "id", "body")...)
	require.ErrorContains(t, err, "--slot")
}
