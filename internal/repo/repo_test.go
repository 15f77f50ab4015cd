package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptdesk/internal/db"
	"scriptdesk/internal/domain"
	"scriptdesk/internal/migrate"
)

func setupRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return Repo{DB: conn}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)

	_, err := r.GetSession(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	established := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	in := domain.Session{
		Token:         "tok-1",
		Actor:         domain.Actor{ID: 7, Name: "Marta", Email: "marta@coop.film", Role: domain.RoleReviewer},
		EstablishedAt: established,
	}
	require.NoError(t, r.SaveSession(ctx, in))
	in.Token = "tok-2"
	require.NoError(t, r.SaveSession(ctx, in))

	got, err := r.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", got.Token)
	assert.Equal(t, in.Actor, got.Actor)
	assert.True(t, got.EstablishedAt.Equal(established))

	require.NoError(t, r.ClearSession(ctx))
	require.NoError(t, r.ClearSession(ctx))
	_, err = r.GetSession(ctx)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJournalQueries(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)

	seq, err := r.LatestJournalSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	for i, typ := range []string{"transition.requested", "transition.succeeded", "session.established"} {
		var scriptID int64
		if typ != "session.established" {
			scriptID = 42
		}
		_, err := r.InsertJournalEntry(ctx, domain.JournalEntry{
			ID: string(rune('a' + i)), TS: "2026-03-01T09:30:00Z", Type: typ, ScriptID: scriptID, ActorID: 7, Payload: "{}",
		})
		require.NoError(t, err)
	}

	latest, err := r.LatestJournal(ctx, JournalFilters{ScriptID: 42})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "transition.succeeded", latest[0].Type)

	byType, err := r.LatestJournal(ctx, JournalFilters{Type: "session.established"})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Zero(t, byType[0].ScriptID)

	after, err := r.JournalAfter(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, int64(2), after[0].Seq)

	seq, err = r.LatestJournalSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}

func TestWebhookCursor(t *testing.T) {
	ctx := context.Background()
	r := setupRepo(t)
	_, err := r.WebhookCursor(ctx, "http://hooks.local")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, r.SetWebhookCursor(ctx, "http://hooks.local", 5))
	require.NoError(t, r.SetWebhookCursor(ctx, "http://hooks.local", 9))
	got, err := r.WebhookCursor(ctx, "http://hooks.local")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got)
}
