package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gatherly-app/gatherly/internal/identity"
	"github.com/gatherly-app/gatherly/internal/session"
	_ "github.com/gatherly-app/gatherly/testing"
)

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return session.NewManager(client, "test_session", time.Hour, false)
}

func TestManagerCreatesFreshBrowserSession(t *testing.T) {
	m := newManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := m.Load(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Nil(t, sess.Identity())
}

func TestManagerRoundTripsIdentitySnapshot(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := m.Load(ctx, req)
	require.NoError(t, err)

	sess.SetIdentity(&identity.Identity{UID: "u1", Email: "ada@test.local"})
	res := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, res, sess))

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "test_session", cookies[0].Name)
	require.Equal(t, sess.ID, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)

	next := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	next.AddCookie(cookies[0])
	loaded, err := m.Load(ctx, next)
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.NotNil(t, loaded.Identity())
	require.Equal(t, "ada@test.local", loaded.Identity().Email)
}

func TestManagerDestroyClearsCookieAndState(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := m.Load(ctx, req)
	require.NoError(t, err)
	sess.SetIdentity(&identity.Identity{UID: "u2", Email: "b@test.local"})

	res := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, res, sess))

	m.Destroy(sess)
	res2 := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, res2, sess))

	cookies := res2.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(&http.Cookie{Name: m.CookieName(), Value: sess.ID})
	loaded, err := m.Load(ctx, next)
	require.NoError(t, err)
	require.Nil(t, loaded.Identity())
}

func TestManagerFlashMessages(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := m.Load(ctx, req)
	require.NoError(t, err)

	sess.AddFlash(session.FlashMessage{Kind: "info", Message: "welcome back"})
	res := httptest.NewRecorder()
	require.NoError(t, m.Commit(ctx, res, sess))

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(res.Result().Cookies()[0])
	loaded, err := m.Load(ctx, next)
	require.NoError(t, err)

	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	require.Equal(t, "welcome back", flash.Message)
	require.Nil(t, loaded.PopFlash())
}
