package projector

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/journal"
	"scriptdesk/internal/status"
)

type result struct {
	s   domain.Script
	err error
}

type pending struct {
	ctx   context.Context
	id    int64
	reply chan result
}

// gatedFetcher hands every call to the test, which decides when and how it
// completes.
type gatedFetcher struct {
	arrived chan *pending
}

func newGated() *gatedFetcher { return &gatedFetcher{arrived: make(chan *pending, 8)} }

func (g *gatedFetcher) Script(ctx context.Context, id int64) (domain.Script, error) {
	p := &pending{ctx: ctx, id: id, reply: make(chan result, 1)}
	g.arrived <- p
	select {
	case r := <-p.reply:
		return r.s, r.err
	case <-ctx.Done():
		return domain.Script{}, ctx.Err()
	}
}

type mapFetcher struct {
	mu      sync.Mutex
	scripts map[int64]domain.Script
	calls   int
}

func (m *mapFetcher) Script(_ context.Context, id int64) (domain.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	s, ok := m.scripts[id]
	if !ok {
		return domain.Script{}, fmt.Errorf("%w: script %d", failure.ErrNotFound, id)
	}
	return s, nil
}

func (m *mapFetcher) set(s domain.Script) {
	m.mu.Lock()
	m.scripts[s.ID] = s
	m.mu.Unlock()
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

func refreshAsync(v *View) chan result {
	out := make(chan result, 1)
	go func() {
		s, err := v.Refresh(context.Background())
		out <- result{s, err}
	}()
	return out
}

func TestOutOfOrderCompletionKeepsNewest(t *testing.T) {
	f := newGated()
	p := New(f, nil, nil, 2)
	v := p.Open(42)

	resA := refreshAsync(v)
	a := <-f.arrived
	resB := refreshAsync(v)
	b := <-f.arrived

	b.reply <- result{s: domain.Script{ID: 42, Title: "B", Status: status.InReview}}
	outB := <-resB
	require.NoError(t, outB.err)
	assert.Equal(t, "B", outB.s.Title)

	a.reply <- result{s: domain.Script{ID: 42, Title: "A", Status: status.AwaitingReview}}
	outA := <-resA
	require.NoError(t, outA.err)
	assert.Equal(t, "B", outA.s.Title)

	snap, ok := v.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "B", snap.Title)
}

func TestInOrderCompletionAppliesBoth(t *testing.T) {
	f := newGated()
	p := New(f, nil, nil, 2)
	v := p.Open(42)

	resA := refreshAsync(v)
	a := <-f.arrived
	resB := refreshAsync(v)
	b := <-f.arrived

	var seen []string
	v.Subscribe(func(s domain.Script) { seen = append(seen, s.Title) })

	a.reply <- result{s: domain.Script{ID: 42, Title: "A"}}
	require.NoError(t, (<-resA).err)
	b.reply <- result{s: domain.Script{ID: 42, Title: "B"}}
	require.NoError(t, (<-resB).err)

	snap, _ := v.Snapshot()
	assert.Equal(t, "B", snap.Title)
	assert.Equal(t, []string{"A", "B"}, seen)
}

func TestClosedViewDiscardsCompletion(t *testing.T) {
	f := newGated()
	p := New(f, nil, nil, 2)
	v := p.Open(42)
	called := false
	v.Subscribe(func(domain.Script) { called = true })

	res := refreshAsync(v)
	call := <-f.arrived
	v.Close()

	out := <-res
	assert.ErrorIs(t, out.err, ErrViewClosed)
	assert.Error(t, call.ctx.Err())
	_, ok := v.Snapshot()
	assert.False(t, ok)
	assert.False(t, called)
	assert.True(t, v.Closed())
	assert.Empty(t, p.Views())

	_, err := v.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrViewClosed)
}

func TestLoadNotFound(t *testing.T) {
	p := New(&mapFetcher{scripts: map[int64]domain.Script{}}, nil, nil, 1)
	_, err := p.Load(context.Background(), 404)
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestStatusChangeIsJournaled(t *testing.T) {
	f := &mapFetcher{scripts: map[int64]domain.Script{42: {ID: 42, Status: status.InApproval}}}
	j := &memJournal{}
	p := New(f, j, nil, 1)

	_, err := p.Load(context.Background(), 42)
	require.NoError(t, err)
	f.set(domain.Script{ID: 42, Status: status.Approved})
	s, err := p.RefreshAfter(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, status.Approved, s.Status)

	require.Len(t, j.entries, 1)
	assert.Equal(t, journal.SnapshotChanged, j.entries[0].Type)
	assert.Equal(t, "approved", j.entries[0].Payload["to"])
}

func TestRefreshAfterWithoutView(t *testing.T) {
	f := &mapFetcher{scripts: map[int64]domain.Script{7: {ID: 7, Status: status.InReview}}}
	p := New(f, nil, nil, 1)
	s, err := p.RefreshAfter(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, status.InReview, s.Status)
	assert.Empty(t, p.Views())
}

func TestRefreshAllCollectsErrors(t *testing.T) {
	f := &mapFetcher{scripts: map[int64]domain.Script{
		1: {ID: 1, Status: status.Submitted},
		2: {ID: 2, Status: status.InAnalysis},
	}}
	p := New(f, nil, nil, 2)
	for _, id := range []int64{1, 2, 3} {
		p.Open(id)
	}
	err := p.RefreshAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrNotFound)
	assert.Contains(t, err.Error(), "script 3")

	views := p.Views()
	require.Len(t, views, 3)
	s, ok := views[1].Snapshot()
	require.True(t, ok)
	assert.Equal(t, status.InAnalysis, s.Status)
	_, ok = views[2].Snapshot()
	assert.False(t, ok)

	p.CloseAll()
	assert.Empty(t, p.Views())
	assert.NoError(t, p.RefreshAll(context.Background()))
}

func TestOpenReturnsMountedView(t *testing.T) {
	p := New(&mapFetcher{scripts: map[int64]domain.Script{}}, nil, nil, 1)
	v := p.Open(5)
	assert.Same(t, v, p.Open(5))
	v.Close()
	assert.NotSame(t, v, p.Open(5))
}
