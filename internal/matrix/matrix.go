// Package matrix decides which transition actions an actor may request for a
// script, given only the actor's role and the script's current status.
package matrix

import (
	"fmt"
	"sort"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
	"scriptdesk/internal/status"
)

// Action is a role-gated transition request kind.
type Action string

const (
	AssumeAnalysis   Action = "assume-analysis"
	ApproveForReview Action = "approve-for-review"
	Reject           Action = "reject"
	AssumeReview     Action = "assume-review"
	SendToApproval   Action = "send-to-approval"
	VoteFor          Action = "vote-for"
	VoteAgainst      Action = "vote-against"
)

var order = []Action{AssumeAnalysis, ApproveForReview, Reject, AssumeReview, SendToApproval, VoteFor, VoteAgainst}

// Actions lists every action kind.
func Actions() []Action {
	out := make([]Action, len(order))
	copy(out, order)
	return out
}

func ParseAction(raw string) (Action, error) {
	for _, a := range order {
		if string(a) == raw {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", failure.ErrValidation, raw)
}

// IsClaim reports whether a takes ownership of a stage.
func (a Action) IsClaim() bool { return a == AssumeAnalysis || a == AssumeReview }

func (a Action) Label() string {
	switch a {
	case AssumeAnalysis:
		return "Assume analysis"
	case ApproveForReview:
		return "Approve for review"
	case Reject:
		return "Reject script"
	case AssumeReview:
		return "Assume review"
	case SendToApproval:
		return "Send to approval"
	case VoteFor:
		return "Vote for"
	case VoteAgainst:
		return "Vote against"
	}
	return string(a)
}

// Set is an immutable set of actions.
type Set map[Action]struct{}

func setOf(actions ...Action) Set {
	s := Set{}
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

func (s Set) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Sorted returns the actions in lifecycle order.
func (s Set) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	idx := map[Action]int{}
	for i, a := range order {
		idx[a] = i
	}
	sort.Slice(out, func(i, j int) bool { return idx[out[i]] < idx[out[j]] })
	return out
}

type key struct {
	role   domain.Role
	status status.Status
}

var table = map[key]Set{
	{domain.RoleAnalyst, status.Submitted}:         setOf(AssumeAnalysis),
	{domain.RoleAnalyst, status.InAnalysis}:        setOf(ApproveForReview, Reject),
	{domain.RoleReviewer, status.AwaitingReview}:   setOf(AssumeReview),
	{domain.RoleReviewer, status.InReview}:         setOf(SendToApproval),
	{domain.RoleApprover, status.AwaitingApproval}: setOf(VoteFor, VoteAgainst),
	{domain.RoleApprover, status.InApproval}:       setOf(VoteFor, VoteAgainst),
}

// Available returns the permitted actions; unlisted pairs yield an empty set.
func Available(role domain.Role, st status.Status) Set {
	out := Set{}
	for a := range table[key{role, st}] {
		out[a] = struct{}{}
	}
	return out
}

// Permits rejects actions the matrix does not offer, whatever a stale view
// may have displayed.
func Permits(role domain.Role, st status.Status, a Action) error {
	if Available(role, st).Has(a) {
		return nil
	}
	return fmt.Errorf("%w: %s cannot %s a script that is %s", failure.ErrNotPermitted, role, a, st)
}

// Relevant lists the statuses a role works on, used by dashboards.
func Relevant(role domain.Role) []status.Status {
	var out []status.Status
	for _, st := range status.All() {
		if len(table[key{role, st}]) > 0 {
			out = append(out, st)
		}
	}
	return out
}
