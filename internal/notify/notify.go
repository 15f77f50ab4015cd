// Package notify delivers journal entries to configured webhooks. Each hook
// keeps a persisted cursor so entries are delivered once, in order.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scriptdesk/internal/config"
	"scriptdesk/internal/domain"
	"scriptdesk/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// Source is the journal and cursor storage the dispatcher reads from.
type Source interface {
	JournalAfter(ctx context.Context, limit int, cursor int64) ([]domain.JournalEntry, error)
	LatestJournalSeq(ctx context.Context) (int64, error)
	WebhookCursor(ctx context.Context, url string) (int64, error)
	SetWebhookCursor(ctx context.Context, url string, seq int64) error
}

type Dispatcher struct {
	Source   Source
	Hooks    []config.WebhookConfig
	Client   *http.Client
	Logger   *slog.Logger
	Interval time.Duration
}

func New(src Source, hooks []config.WebhookConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{Source: src, Hooks: hooks, Logger: logger}
}

// Enabled reports whether any hook is active.
func (d *Dispatcher) Enabled() bool {
	for _, h := range d.Hooks {
		if h.Active() && strings.TrimSpace(h.URL) != "" {
			return true
		}
	}
	return false
}

// Run delivers pending entries every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger().Warn("webhook dispatch", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch per hook. A failing hook does not block the
// others; its cursor stays at the last delivered entry.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	var errs []error
	for _, hook := range d.Hooks {
		if !hook.Active() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := d.dispatchHook(ctx, hook); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchHook(ctx context.Context, hook config.WebhookConfig) error {
	cursor, err := d.cursorFor(ctx, hook.URL)
	if err != nil {
		return err
	}
	entries, err := d.Source.JournalAfter(ctx, defaultBatch, cursor)
	if err != nil {
		return fmt.Errorf("fetch journal: %w", err)
	}
	filter := newEventFilter(hook.Events)
	for _, e := range entries {
		if filter.match(e.Type) {
			if err := d.post(ctx, hook, e); err != nil {
				return err
			}
		}
		if err := d.Source.SetWebhookCursor(ctx, hook.URL, e.Seq); err != nil {
			return fmt.Errorf("store cursor: %w", err)
		}
	}
	return nil
}

// cursorFor starts new hooks at the current end of the journal.
func (d *Dispatcher) cursorFor(ctx context.Context, url string) (int64, error) {
	cur, err := d.Source.WebhookCursor(ctx, url)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	cur, err = d.Source.LatestJournalSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("init cursor: %w", err)
	}
	if err := d.Source.SetWebhookCursor(ctx, url, cur); err != nil {
		return 0, fmt.Errorf("init cursor: %w", err)
	}
	return cur, nil
}

type delivery struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	ScriptID  int64           `json:"script_id,omitempty"`
	ActorID   int64           `json:"actor_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, e domain.JournalEntry) error {
	payload := json.RawMessage("{}")
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	data, err := json.Marshal(delivery{
		Seq: e.Seq, ID: e.ID, Type: e.Type, ScriptID: e.ScriptID, ActorID: e.ActorID,
		RequestID: e.RequestID, TS: e.TS, Payload: payload,
	})
	if err != nil {
		return err
	}
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Scriptdesk-Event", e.Type)
	req.Header.Set("X-Scriptdesk-Delivery", e.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Scriptdesk-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
