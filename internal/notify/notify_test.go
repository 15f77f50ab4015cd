package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptdesk/internal/config"
	"scriptdesk/internal/db"
	"scriptdesk/internal/journal"
	"scriptdesk/internal/migrate"
	"scriptdesk/internal/repo"
)

type received struct {
	mu     sync.Mutex
	bodies []delivery
	events []string
	secret string
}

func (r *received) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var d delivery
		_ = json.NewDecoder(req.Body).Decode(&d)
		r.mu.Lock()
		r.bodies = append(r.bodies, d)
		r.events = append(r.events, req.Header.Get("X-Scriptdesk-Event"))
		r.secret = req.Header.Get("X-Scriptdesk-Secret")
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func setup(t *testing.T) (repo.Repo, journal.Writer) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	return r, journal.Writer{Repo: r}
}

func TestDispatchDeliversNewEntriesOnce(t *testing.T) {
	ctx := context.Background()
	r, w := setup(t)
	require.NoError(t, w.Append(ctx, journal.Entry{Type: journal.SessionEstablished}))

	rec := &received{}
	srv := httptest.NewServer(rec.handler(http.StatusNoContent))
	defer srv.Close()

	d := New(r, []config.WebhookConfig{{URL: srv.URL, Secret: "s3cret", Events: []string{journal.TransitionSucceeded}}}, nil)
	require.True(t, d.Enabled())
	require.NoError(t, d.DispatchOnce(ctx))
	assert.Empty(t, rec.bodies, "entries before the first dispatch are not replayed")

	require.NoError(t, w.Append(ctx, journal.Entry{Type: journal.TransitionRequested, ScriptID: 42}))
	require.NoError(t, w.Append(ctx, journal.Entry{Type: journal.TransitionSucceeded, ScriptID: 42, Payload: journal.Payload{"action": "vote-for"}}))
	require.NoError(t, d.DispatchOnce(ctx))
	require.NoError(t, d.DispatchOnce(ctx))

	require.Len(t, rec.bodies, 1)
	assert.Equal(t, journal.TransitionSucceeded, rec.events[0])
	assert.Equal(t, int64(42), rec.bodies[0].ScriptID)
	assert.Equal(t, "s3cret", rec.secret)
	assert.JSONEq(t, `{"action":"vote-for"}`, string(rec.bodies[0].Payload))

	cur, err := r.WebhookCursor(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur)
}

func TestFailedDeliveryKeepsCursor(t *testing.T) {
	ctx := context.Background()
	r, w := setup(t)
	rec := &received{}
	srv := httptest.NewServer(rec.handler(http.StatusInternalServerError))
	defer srv.Close()

	d := New(r, []config.WebhookConfig{{URL: srv.URL}}, nil)
	require.NoError(t, d.DispatchOnce(ctx))
	require.NoError(t, w.Append(ctx, journal.Entry{Type: journal.SnapshotChanged, ScriptID: 1}))

	err := d.DispatchOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	cur, err := r.WebhookCursor(ctx, srv.URL)
	require.NoError(t, err)
	assert.Zero(t, cur)
}

func TestDisabledHooksAreSkipped(t *testing.T) {
	off := false
	d := New(nil, []config.WebhookConfig{{URL: "http://hooks.invalid", Enabled: &off}}, nil)
	assert.False(t, d.Enabled())
	assert.NoError(t, d.DispatchOnce(context.Background()))
}
