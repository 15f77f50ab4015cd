// Package transition turns a role-gated action into exactly one request to
// the script service and hands the result back to the projector. It never
// predicts the resulting status; the backend owns the state machine.
package transition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"scriptdesk/internal/api"
	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/journal"
	"scriptdesk/internal/matrix"
	"scriptdesk/internal/status"
	"scriptdesk/internal/validate"
)

// DefaultRejectJustification is sent when an analyst rejects without a note.
const DefaultRejectJustification = "Script rejected during analysis."

// Backend is the subset of the API client used to request transitions.
type Backend interface {
	AssumeAnalysis(ctx context.Context, scriptID, actorID int64) (domain.Script, error)
	Analyze(ctx context.Context, scriptID, actorID int64, justification string, fit bool) (domain.Script, error)
	AssumeReview(ctx context.Context, scriptID, actorID int64) (domain.Script, error)
	Review(ctx context.Context, scriptID, actorID int64, notes string) (domain.Script, error)
	Vote(ctx context.Context, scriptID, actorID int64, approve bool, justification string) (domain.Script, error)
}

type Identity interface {
	Require(ctx context.Context) (domain.Actor, error)
}

// Refresher re-fetches the canonical snapshot after a successful transition.
type Refresher interface {
	RefreshAfter(ctx context.Context, scriptID int64) (domain.Script, error)
}

type Request struct {
	Action   matrix.Action
	ScriptID int64
	// Current is the status the actor saw when choosing the action.
	Current status.Status
	Note    string
}

type Outcome struct {
	Action   matrix.Action
	ScriptID int64
	Actor    domain.Actor
	// Script is the re-fetched snapshot, or the backend's response body when
	// the refresh failed.
	Script     domain.Script
	Refreshed  bool
	RefreshErr error
	// RequestID is the X-Request-Id sent with the transition request.
	RequestID string
}

type Client struct {
	Backend   Backend
	Session   Identity
	Refresher Refresher
	Journal   journal.Appender
	Logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[int64]matrix.Action
}

func New(backend Backend, session Identity, refresher Refresher, j journal.Appender, logger *slog.Logger) *Client {
	return &Client{Backend: backend, Session: session, Refresher: refresher, Journal: j, Logger: logger}
}

// Dispatch checks identity, permission, input and in-flight state, in that
// order, before sending a single request. A failed check sends nothing.
func (c *Client) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{Action: req.Action, ScriptID: req.ScriptID}
	actor, err := c.Session.Require(ctx)
	if err != nil {
		return out, err
	}
	out.Actor = actor
	if err := matrix.Permits(actor.Role, req.Current, req.Action); err != nil {
		return out, err
	}
	note, err := Note(req.Action, req.Note)
	if err != nil {
		return out, err
	}
	if !c.acquire(req.ScriptID, req.Action) {
		return out, fmt.Errorf("%w: script %d", failure.ErrInFlight, req.ScriptID)
	}
	defer c.release(req.ScriptID)

	out.RequestID = uuid.NewString()
	c.record(ctx, journal.TransitionRequested, req, out, journal.Payload{"from": req.Current.String()})
	resp, err := c.send(api.WithRequestID(ctx, out.RequestID), req.Action, req.ScriptID, actor.ID, note)
	if err != nil {
		if req.Action.IsClaim() && (errors.Is(err, failure.ErrForbidden) || errors.Is(err, failure.ErrConflict)) {
			err = fmt.Errorf("%w: script %d stage already claimed: %w", failure.ErrConflict, req.ScriptID, err)
		}
		c.record(ctx, journal.TransitionFailed, req, out, journal.Payload{"error": err.Error()})
		return out, err
	}
	c.record(ctx, journal.TransitionSucceeded, req, out, journal.Payload{"reported": resp.RawStatus})

	out.Script = resp
	if c.Refresher == nil {
		return out, nil
	}
	fresh, err := c.Refresher.RefreshAfter(ctx, req.ScriptID)
	if err != nil {
		c.logger().Warn("refresh after transition failed", "script_id", req.ScriptID, "action", req.Action, "error", err)
		out.RefreshErr = err
		return out, nil
	}
	out.Script = fresh
	out.Refreshed = true
	return out, nil
}

func (c *Client) send(ctx context.Context, a matrix.Action, scriptID, actorID int64, note string) (domain.Script, error) {
	switch a {
	case matrix.AssumeAnalysis:
		return c.Backend.AssumeAnalysis(ctx, scriptID, actorID)
	case matrix.ApproveForReview:
		return c.Backend.Analyze(ctx, scriptID, actorID, note, true)
	case matrix.Reject:
		return c.Backend.Analyze(ctx, scriptID, actorID, note, false)
	case matrix.AssumeReview:
		return c.Backend.AssumeReview(ctx, scriptID, actorID)
	case matrix.SendToApproval:
		return c.Backend.Review(ctx, scriptID, actorID, note)
	case matrix.VoteFor:
		return c.Backend.Vote(ctx, scriptID, actorID, true, note)
	case matrix.VoteAgainst:
		return c.Backend.Vote(ctx, scriptID, actorID, false, note)
	}
	return domain.Script{}, fmt.Errorf("%w: unknown action %q", failure.ErrValidation, a)
}

// Note returns the note to send for action a, or a validation error.
func Note(a matrix.Action, note string) (string, error) {
	note = strings.TrimSpace(note)
	switch a {
	case matrix.ApproveForReview, matrix.VoteFor, matrix.VoteAgainst:
		if err := validate.Note("justification", note); err != nil {
			return "", err
		}
	case matrix.Reject:
		if note == "" {
			return DefaultRejectJustification, nil
		}
		if err := validate.Note("justification", note); err != nil {
			return "", err
		}
	case matrix.SendToApproval:
		if note != "" {
			if err := validate.Note("notes", note); err != nil {
				return "", err
			}
		}
	}
	return note, nil
}

// pending reports whether a transition for scriptID is outstanding.
func (c *Client) pending(scriptID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[scriptID]
	return ok
}

func (c *Client) acquire(scriptID int64, a matrix.Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight == nil {
		c.inFlight = map[int64]matrix.Action{}
	}
	if _, busy := c.inFlight[scriptID]; busy {
		return false
	}
	c.inFlight[scriptID] = a
	return true
}

func (c *Client) release(scriptID int64) {
	c.mu.Lock()
	delete(c.inFlight, scriptID)
	c.mu.Unlock()
}

func (c *Client) record(ctx context.Context, typ string, req Request, out Outcome, payload journal.Payload) {
	if c.Journal == nil {
		return
	}
	payload["action"] = string(req.Action)
	entry := journal.Entry{Type: typ, ScriptID: req.ScriptID, ActorID: out.Actor.ID, RequestID: out.RequestID, Payload: payload}
	if err := c.Journal.Append(ctx, entry); err != nil {
		c.logger().Warn("journal append failed", "type", typ, "error", err)
	}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
