package transition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptdesk/internal/api"
	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/journal"
	"scriptdesk/internal/matrix"
	"scriptdesk/internal/status"
)

type sent struct {
	method  string
	script  int64
	actor   int64
	note    string
	verdict bool
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []sent
	err   error
	block chan struct{}
	resp  domain.Script
	ids   []string
}

func (f *fakeBackend) hit(ctx context.Context, s sent) (domain.Script, error) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.ids = append(f.ids, api.RequestIDFrom(ctx))
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.resp, f.err
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) AssumeAnalysis(ctx context.Context, scriptID, actorID int64) (domain.Script, error) {
	return f.hit(ctx, sent{method: "assume-analysis", script: scriptID, actor: actorID})
}

func (f *fakeBackend) Analyze(ctx context.Context, scriptID, actorID int64, justification string, fit bool) (domain.Script, error) {
	return f.hit(ctx, sent{method: "analyze", script: scriptID, actor: actorID, note: justification, verdict: fit})
}

func (f *fakeBackend) AssumeReview(ctx context.Context, scriptID, actorID int64) (domain.Script, error) {
	return f.hit(ctx, sent{method: "assume-review", script: scriptID, actor: actorID})
}

func (f *fakeBackend) Review(ctx context.Context, scriptID, actorID int64, notes string) (domain.Script, error) {
	return f.hit(ctx, sent{method: "review", script: scriptID, actor: actorID, note: notes})
}

func (f *fakeBackend) Vote(ctx context.Context, scriptID, actorID int64, approve bool, justification string) (domain.Script, error) {
	return f.hit(ctx, sent{method: "vote", script: scriptID, actor: actorID, note: justification, verdict: approve})
}

type fixedIdentity struct{ actor *domain.Actor }

func (f fixedIdentity) Require(context.Context) (domain.Actor, error) {
	if f.actor == nil {
		return domain.Actor{}, fmt.Errorf("%w: no active session", failure.ErrUnauthenticated)
	}
	return *f.actor, nil
}

type fakeRefresher struct {
	calls int
	snap  domain.Script
	err   error
}

func (f *fakeRefresher) RefreshAfter(_ context.Context, id int64) (domain.Script, error) {
	f.calls++
	return f.snap, f.err
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (m *memJournal) Append(_ context.Context, e journal.Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

func (m *memJournal) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		out = append(out, e.Type)
	}
	return out
}

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	analyst  = domain.Actor{ID: 3, Name: "Ana", Role: domain.RoleAnalyst}
	approver = domain.Actor{ID: 11, Name: "Paulo", Role: domain.RoleApprover}
)

func TestDispatchWithoutActorSendsNothing(t *testing.T) {
	be := &fakeBackend{}
	c := New(be, fixedIdentity{}, nil, nil, nil)
	_, err := c.Dispatch(context.Background(), Request{Action: matrix.AssumeAnalysis, ScriptID: 42, Current: status.Submitted})
	assert.ErrorIs(t, err, failure.ErrUnauthenticated)
	assert.Zero(t, be.count())
}

func TestDispatchRejectsStalePermission(t *testing.T) {
	be := &fakeBackend{}
	c := New(be, fixedIdentity{&analyst}, nil, nil, nil)
	_, err := c.Dispatch(context.Background(), Request{Action: matrix.ApproveForReview, ScriptID: 42, Current: status.InReview, Note: "ok"})
	assert.ErrorIs(t, err, failure.ErrNotPermitted)
	assert.Zero(t, be.count())
}

func TestDispatchValidatesNoteBeforeSending(t *testing.T) {
	be := &fakeBackend{}
	c := New(be, fixedIdentity{&approver}, nil, nil, nil)
	_, err := c.Dispatch(context.Background(), Request{Action: matrix.VoteFor, ScriptID: 42, Current: status.InApproval, Note: "  "})
	assert.ErrorIs(t, err, failure.ErrValidation)
	assert.Zero(t, be.count())
}

func TestRejectWithoutNoteUsesDefault(t *testing.T) {
	be := &fakeBackend{resp: domain.Script{ID: 42, Status: status.Rejected}}
	c := New(be, fixedIdentity{&analyst}, nil, nil, nil)
	out, err := c.Dispatch(context.Background(), Request{Action: matrix.Reject, ScriptID: 42, Current: status.InAnalysis})
	require.NoError(t, err)
	require.Equal(t, 1, be.count())
	assert.Equal(t, sent{method: "analyze", script: 42, actor: 3, note: DefaultRejectJustification, verdict: false}, be.calls[0])
	assert.Equal(t, status.Rejected, out.Script.Status)
	assert.False(t, out.Refreshed)
}

func TestClaimRefusalIsConflict(t *testing.T) {
	for _, kind := range []error{failure.ErrForbidden, failure.ErrConflict} {
		be := &fakeBackend{err: fmt.Errorf("api error: %w", kind)}
		ref := &fakeRefresher{}
		j := &memJournal{}
		c := New(be, fixedIdentity{&analyst}, ref, j, nil)
		_, err := c.Dispatch(context.Background(), Request{Action: matrix.AssumeAnalysis, ScriptID: 42, Current: status.Submitted})
		require.Error(t, err)
		assert.Equal(t, failure.ErrConflict, failure.Kind(err))
		assert.Zero(t, ref.calls)
		assert.Equal(t, []string{journal.TransitionRequested, journal.TransitionFailed}, j.types())
	}
}

func TestNonClaimForbiddenStaysForbidden(t *testing.T) {
	be := &fakeBackend{err: fmt.Errorf("api error: %w", failure.ErrForbidden)}
	c := New(be, fixedIdentity{&analyst}, nil, nil, nil)
	_, err := c.Dispatch(context.Background(), Request{Action: matrix.ApproveForReview, ScriptID: 42, Current: status.InAnalysis, Note: "fine"})
	assert.Equal(t, failure.ErrForbidden, failure.Kind(err))
}

func TestVoteRefreshesCanonicalSnapshot(t *testing.T) {
	be := &fakeBackend{resp: domain.Script{ID: 42, Status: status.InApproval}}
	fresh := domain.Script{ID: 42, Status: status.InApproval, Assignee: &approver}
	ref := &fakeRefresher{snap: fresh}
	j := &memJournal{}
	c := New(be, fixedIdentity{&approver}, ref, j, nil)

	out, err := c.Dispatch(context.Background(), Request{Action: matrix.VoteFor, ScriptID: 42, Current: status.AwaitingApproval, Note: "Strong narrative"})
	require.NoError(t, err)
	require.Equal(t, 1, be.count())
	assert.Equal(t, sent{method: "vote", script: 42, actor: 11, note: "Strong narrative", verdict: true}, be.calls[0])
	assert.Equal(t, 1, ref.calls)
	assert.True(t, out.Refreshed)
	assert.Equal(t, fresh, out.Script)
	assert.Equal(t, []string{journal.TransitionRequested, journal.TransitionSucceeded}, j.types())
	assert.False(t, c.pending(42))
}

func TestRefreshFailureKeepsSuccess(t *testing.T) {
	be := &fakeBackend{resp: domain.Script{ID: 42, Status: status.InReview}}
	ref := &fakeRefresher{err: errors.New("boom")}
	reviewer := domain.Actor{ID: 5, Role: domain.RoleReviewer}
	c := New(be, fixedIdentity{&reviewer}, ref, nil, nil)
	out, err := c.Dispatch(context.Background(), Request{Action: matrix.AssumeReview, ScriptID: 42, Current: status.AwaitingReview})
	require.NoError(t, err)
	assert.False(t, out.Refreshed)
	assert.Error(t, out.RefreshErr)
	assert.Equal(t, status.InReview, out.Script.Status)
}

func TestSecondDispatchWhileInFlight(t *testing.T) {
	be := &fakeBackend{block: make(chan struct{})}
	c := New(be, fixedIdentity{&analyst}, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(context.Background(), Request{Action: matrix.AssumeAnalysis, ScriptID: 42, Current: status.Submitted})
		done <- err
	}()
	require.Eventually(t, func() bool { return be.count() == 1 }, timeout, tick)
	assert.True(t, c.pending(42))

	_, err := c.Dispatch(context.Background(), Request{Action: matrix.AssumeAnalysis, ScriptID: 42, Current: status.Submitted})
	assert.ErrorIs(t, err, failure.ErrInFlight)

	close(be.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, be.count())
	assert.False(t, c.pending(42))
}

func TestNote(t *testing.T) {
	got, err := Note(matrix.SendToApproval, "")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = Note(matrix.Reject, "  Weak ending  ")
	require.NoError(t, err)
	assert.Equal(t, "Weak ending", got)
	got, err = Note(matrix.AssumeReview, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "ignored", got)
	_, err = Note(matrix.ApproveForReview, "")
	assert.ErrorIs(t, err, failure.ErrValidation)
}

func TestTransitionJournalCarriesRequestID(t *testing.T) {
	be := &fakeBackend{resp: domain.Script{ID: 42, Status: status.InAnalysis}}
	j := &memJournal{}
	c := New(be, fixedIdentity{&analyst}, nil, j, nil)

	out, err := c.Dispatch(context.Background(), Request{Action: matrix.AssumeAnalysis, ScriptID: 42, Current: status.Submitted})
	require.NoError(t, err)
	require.NotEmpty(t, out.RequestID)
	assert.Equal(t, []string{out.RequestID}, be.ids)
	require.Len(t, j.entries, 2)
	for _, e := range j.entries {
		assert.Equal(t, out.RequestID, e.RequestID, e.Type)
	}
}
