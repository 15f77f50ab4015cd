// Package journal appends audit entries for transitions, snapshot changes and
// session lifecycle to the workspace database.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/repo"
)

const (
	TransitionRequested = "transition.requested"
	TransitionSucceeded = "transition.succeeded"
	TransitionFailed    = "transition.failed"
	SnapshotChanged     = "snapshot.changed"
	SessionEstablished  = "session.established"
	SessionInvalidated  = "session.invalidated"
)

// Types lists every entry type the client writes.
func Types() []string {
	return []string{TransitionRequested, TransitionSucceeded, TransitionFailed, SnapshotChanged, SessionEstablished, SessionInvalidated}
}

type Payload map[string]any

type Entry struct {
	Type      string
	ScriptID  int64
	ActorID   int64
	RequestID string
	Payload   Payload
}

// Appender records entries. Callers treat a failed append as non-fatal.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Append(context.Context, Entry) error { return nil }

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (w Writer) Append(ctx context.Context, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	now := w.Now().UTC()
	if e.Payload == nil {
		e.Payload = Payload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = w.Repo.InsertJournalEntry(ctx, domain.JournalEntry{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		TS:        now.Format(time.RFC3339),
		Type:      e.Type,
		ScriptID:  e.ScriptID,
		ActorID:   e.ActorID,
		RequestID: e.RequestID,
		Payload:   string(data),
	})
	return err
}
