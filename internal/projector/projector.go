// Package projector owns the displayed snapshot of each open script view.
// Fetch completions are applied only when they are newer, by issue order,
// than what the view already shows, and nothing is applied after a view is
// closed.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/journal"
)

var ErrViewClosed = errors.New("view closed")

// Fetcher reads the canonical snapshot of one script.
type Fetcher interface {
	Script(ctx context.Context, id int64) (domain.Script, error)
}

type Projector struct {
	Fetcher Fetcher
	Journal journal.Appender
	Logger  *slog.Logger
	// Concurrency bounds RefreshAll; values below 1 mean 4.
	Concurrency int

	mu    sync.Mutex
	views map[int64]*View
}

func New(f Fetcher, j journal.Appender, logger *slog.Logger, concurrency int) *Projector {
	return &Projector{Fetcher: f, Journal: j, Logger: logger, Concurrency: concurrency}
}

// Open mounts a view for id, or returns the one already open.
func (p *Projector) Open(id int64) *View {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.views == nil {
		p.views = map[int64]*View{}
	}
	if v, ok := p.views[id]; ok {
		return v
	}
	done, cancel := context.WithCancel(context.Background())
	v := &View{id: id, p: p, done: done, cancel: cancel}
	p.views[id] = v
	return v
}

// Views returns the open views ordered by script id.
func (p *Projector) Views() []*View {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*View, 0, len(p.views))
	for _, v := range p.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Load mounts a view for id and performs its initial fetch.
func (p *Projector) Load(ctx context.Context, id int64) (domain.Script, error) {
	return p.Open(id).Refresh(ctx)
}

// RefreshAfter re-fetches id after a transition. Without an open view the
// fetched snapshot is returned as is.
func (p *Projector) RefreshAfter(ctx context.Context, id int64) (domain.Script, error) {
	p.mu.Lock()
	v, ok := p.views[id]
	p.mu.Unlock()
	if ok {
		return v.Refresh(ctx)
	}
	return p.Fetcher.Script(ctx, id)
}

// RefreshAll refreshes every open view. Failures of individual views do not
// stop the others; they are joined into the returned error.
func (p *Projector) RefreshAll(ctx context.Context) error {
	limit := p.Concurrency
	if limit < 1 {
		limit = 4
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(limit)
	for _, v := range p.Views() {
		g.Go(func() error {
			if _, err := v.Refresh(ctx); err != nil && !errors.Is(err, ErrViewClosed) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("script %d: %w", v.id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// CloseAll closes every open view.
func (p *Projector) CloseAll() {
	for _, v := range p.Views() {
		v.Close()
	}
}

func (p *Projector) forget(v *View) {
	p.mu.Lock()
	if p.views[v.id] == v {
		delete(p.views, v.id)
	}
	p.mu.Unlock()
}

func (p *Projector) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// View is one mounted script view.
type View struct {
	id     int64
	p      *Projector
	done   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	issued  uint64
	applied uint64
	snap    *domain.Script
	closed  bool
	subs    map[int]func(domain.Script)
	nextSub int
}

func (v *View) ID() int64 { return v.id }

// Snapshot returns the displayed snapshot, if one has been applied.
func (v *View) Snapshot() (domain.Script, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snap == nil {
		return domain.Script{}, false
	}
	return *v.snap, true
}

// Subscribe registers fn to run after each applied snapshot. The returned
// func unsubscribes.
func (v *View) Subscribe(fn func(domain.Script)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.subs == nil {
		v.subs = map[int]func(domain.Script){}
	}
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

// Close navigates away: outstanding fetches are cancelled and their results
// discarded.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.subs = nil
	v.mu.Unlock()
	v.cancel()
	v.p.forget(v)
}

func (v *View) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Refresh fetches the script and applies the result unless a fetch issued
// later has already been applied, in which case the displayed snapshot is
// returned.
func (v *View) Refresh(ctx context.Context) (domain.Script, error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return domain.Script{}, fmt.Errorf("%w: script %d", ErrViewClosed, v.id)
	}
	v.issued++
	seq := v.issued
	v.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(v.done, cancel)
	defer stop()

	s, err := v.p.Fetcher.Script(ctx, v.id)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return domain.Script{}, fmt.Errorf("%w: script %d", ErrViewClosed, v.id)
	}
	if err != nil {
		v.mu.Unlock()
		return domain.Script{}, err
	}
	if seq <= v.applied {
		cur := *v.snap
		v.mu.Unlock()
		v.p.logger().Debug("discarded stale fetch", "script_id", v.id, "seq", seq, "applied", v.applied)
		return cur, nil
	}
	prev := v.snap
	v.applied = seq
	v.snap = &s
	subs := make([]func(domain.Script), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	if prev != nil && prev.Status != s.Status {
		v.p.recordChange(ctx, *prev, s)
	}
	for _, fn := range subs {
		fn(s)
	}
	return s, nil
}

func (p *Projector) recordChange(ctx context.Context, prev, next domain.Script) {
	if p.Journal == nil {
		return
	}
	payload := journal.Payload{"from": prev.Status.String(), "to": next.Status.String(), "assignee": next.AssigneeName()}
	if err := p.Journal.Append(context.WithoutCancel(ctx), journal.Entry{Type: journal.SnapshotChanged, ScriptID: next.ID, Payload: payload}); err != nil {
		p.logger().Warn("journal append failed", "type", journal.SnapshotChanged, "error", err)
	}
}
