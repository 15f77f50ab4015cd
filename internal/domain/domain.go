package domain

import (
	"fmt"
	"strings"
	"time"

	"scriptdesk/internal/status"
)

// Role is the single role an actor holds for a session.
type Role string

const (
	RoleAnalyst  Role = "analyst"
	RoleReviewer Role = "reviewer"
	RoleApprover Role = "approver"
)

var roleWire = map[string]Role{
	"ANALISTA":  RoleAnalyst,
	"REVISOR":   RoleReviewer,
	"APROVADOR": RoleApprover,
	"analyst":   RoleAnalyst,
	"reviewer":  RoleReviewer,
	"approver":  RoleApprover,
}

// ParseRole maps a backend cargo value (or the client slug) to a Role.
// There is no fallback role.
func ParseRole(raw string) (Role, error) {
	if r, ok := roleWire[strings.TrimSpace(raw)]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Wire returns the backend cargo value for r.
func (r Role) Wire() string {
	switch r {
	case RoleAnalyst:
		return "ANALISTA"
	case RoleReviewer:
		return "REVISOR"
	case RoleApprover:
		return "APROVADOR"
	}
	return ""
}

func (r Role) Label() string {
	switch r {
	case RoleAnalyst:
		return "Analyst"
	case RoleReviewer:
		return "Reviewer"
	case RoleApprover:
		return "Approver"
	}
	return string(r)
}

type Actor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

type Submitter struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Vote struct {
	Actor         Actor  `json:"actor"`
	Approve       bool   `json:"approve"`
	Justification string `json:"justification,omitempty"`
}

type HistoryEntry struct {
	Status status.Status `json:"status"`
	Actor  string        `json:"actor"`
	At     time.Time     `json:"at"`
	Note   string        `json:"note,omitempty"`
}

// Script is a snapshot of the backend's view of one script. It is only ever
// replaced wholesale by a fresh fetch.
type Script struct {
	ID            int64          `json:"id"`
	Title         string         `json:"title"`
	Content       string         `json:"content,omitempty"`
	Submitter     Submitter      `json:"submitter"`
	Status        status.Status  `json:"status"`
	RawStatus     string         `json:"raw_status"`
	Assignee      *Actor         `json:"assignee,omitempty"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	AnalysisNotes string         `json:"analysis_notes,omitempty"`
	ReviewNotes   string         `json:"review_notes,omitempty"`
	Votes         []Vote         `json:"votes,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
}

// AssigneeName returns the responsible actor's name or "".
func (s Script) AssigneeName() string {
	if s.Assignee == nil {
		return ""
	}
	return s.Assignee.Name
}

// Submission is the public intake form.
type Submission struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Submitter Submitter
}

// Credentials are the login form values.
type Credentials struct {
	Email    string
	Password string
}

// Registration creates a staff account.
type Registration struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

// Session is the authenticated identity established by a successful login.
type Session struct {
	Token         string    `json:"-"`
	Actor         Actor     `json:"actor"`
	EstablishedAt time.Time `json:"established_at"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// JournalEntry is one row of the local audit journal.
type JournalEntry struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	ScriptID  int64  `json:"script_id,omitempty"`
	ActorID   int64  `json:"actor_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Payload   string `json:"payload"`
}
