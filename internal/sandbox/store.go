package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/status"
)

var (
	errNotFound     = errors.New("not found")
	errDenied       = errors.New("permission denied")
	errClaimed      = errors.New("already claimed")
	errDuplicate    = errors.New("already exists")
	errInvalidLogin = errors.New("invalid credentials")
)

type user struct {
	actor    domain.Actor
	password string
}

// Store is the sandbox's in-memory copy of the review workflow. It applies
// the service's rules: stages are claimed only while awaiting, only the
// responsible actor decides, each approver votes once, any vote against
// rejects and two votes for approve.
type Store struct {
	Now func() time.Time

	mu         sync.Mutex
	users      map[int64]*user
	byEmail    map[string]int64
	scripts    map[int64]*domain.Script
	clients    map[string]domain.Submitter
	nextUser   int64
	nextScript int64
	nextClient int64
}

func NewStore() *Store {
	return &Store{
		Now:        time.Now,
		users:      map[int64]*user{},
		byEmail:    map[string]int64{},
		scripts:    map[int64]*domain.Script{},
		clients:    map[string]domain.Submitter{},
		nextUser:   1,
		nextScript: 1,
		nextClient: 1,
	}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// SetNextScriptID sets the id the next submission receives.
func (s *Store) SetNextScriptID(id int64) {
	s.mu.Lock()
	s.nextScript = id
	s.mu.Unlock()
}

// SetNextUserID sets the id the next registered user receives.
func (s *Store) SetNextUserID(id int64) {
	s.mu.Lock()
	s.nextUser = id
	s.mu.Unlock()
}

func (s *Store) AddUser(name, email, password string, role domain.Role) (domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(email))
	if _, ok := s.byEmail[key]; ok {
		return domain.Actor{}, fmt.Errorf("user %s: %w", email, errDuplicate)
	}
	a := domain.Actor{ID: s.nextUser, Name: name, Email: email, Role: role}
	s.nextUser++
	s.users[a.ID] = &user{actor: a, password: password}
	s.byEmail[key] = a.ID
	return a, nil
}

func (s *Store) Authenticate(email, password string) (domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok || s.users[id].password != password {
		return domain.Actor{}, errInvalidLogin
	}
	return s.users[id].actor, nil
}

func (s *Store) User(id int64) (domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.Actor{}, fmt.Errorf("user %d: %w", id, errNotFound)
	}
	return u.actor, nil
}

// Submit creates a script awaiting analysis, reusing the submitter record
// for a known email.
func (s *Store) Submit(sub domain.Submission) domain.Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(sub.Submitter.Email))
	client, ok := s.clients[key]
	if !ok {
		client = sub.Submitter
		client.ID = s.nextClient
		s.nextClient++
		s.clients[key] = client
	}
	now := s.now()
	sc := &domain.Script{
		ID:          s.nextScript,
		Title:       sub.Title,
		Content:     sub.Content,
		Submitter:   client,
		Status:      status.Submitted,
		SubmittedAt: now,
		History:     []domain.HistoryEntry{{Status: status.Submitted, Actor: client.Name, At: now}},
	}
	s.nextScript++
	s.scripts[sc.ID] = sc
	return clone(sc)
}

// Put stores a prepared script as is.
func (s *Store) Put(sc domain.Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sc
	s.scripts[sc.ID] = &cp
	if sc.ID >= s.nextScript {
		s.nextScript = sc.ID + 1
	}
}

func (s *Store) Script(id int64) (domain.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[id]
	if !ok {
		return domain.Script{}, fmt.Errorf("script %d: %w", id, errNotFound)
	}
	return clone(sc), nil
}

// LatestByEmail returns the most recent script submitted from email.
func (s *Store) LatestByEmail(email string) (domain.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Script
	for _, sc := range s.scripts {
		if !strings.EqualFold(sc.Submitter.Email, email) {
			continue
		}
		if latest == nil || sc.ID > latest.ID {
			latest = sc
		}
	}
	if latest == nil {
		return domain.Script{}, fmt.Errorf("no script for %s: %w", email, errNotFound)
	}
	return clone(latest), nil
}

func (s *Store) List() []domain.Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Script, 0, len(s.scripts))
	for _, sc := range s.scripts {
		out = append(out, clone(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) AssumeAnalysis(id, userID int64) (domain.Script, error) {
	return s.claim(id, userID, domain.RoleAnalyst, status.Submitted, status.InAnalysis)
}

func (s *Store) AssumeReview(id, userID int64) (domain.Script, error) {
	return s.claim(id, userID, domain.RoleReviewer, status.AwaitingReview, status.InReview)
}

func (s *Store) claim(id, userID int64, role domain.Role, from, to status.Status) (domain.Script, error) {
	return s.mutate(id, userID, func(sc *domain.Script, u domain.Actor) (string, error) {
		if sc.Status == to && sc.Assignee != nil && sc.Assignee.ID != u.ID {
			return "", fmt.Errorf("script %d: %w by %s", sc.ID, errClaimed, sc.Assignee.Name)
		}
		if sc.Status != from || u.Role != role {
			return "", fmt.Errorf("user cannot claim script %d: %w", sc.ID, errDenied)
		}
		a := u
		sc.Assignee = &a
		sc.Status = to
		return "", nil
	})
}

func (s *Store) Analyze(id, userID int64, justification string, fit bool) (domain.Script, error) {
	return s.mutate(id, userID, func(sc *domain.Script, u domain.Actor) (string, error) {
		if sc.Status != status.InAnalysis || u.Role != domain.RoleAnalyst || !owns(sc, u) {
			return "", fmt.Errorf("user cannot analyze script %d: %w", sc.ID, errDenied)
		}
		sc.AnalysisNotes = justification
		if fit {
			sc.Status = status.AwaitingReview
		} else {
			sc.Status = status.Rejected
		}
		return justification, nil
	})
}

func (s *Store) Review(id, userID int64, notes string) (domain.Script, error) {
	return s.mutate(id, userID, func(sc *domain.Script, u domain.Actor) (string, error) {
		if sc.Status != status.InReview || u.Role != domain.RoleReviewer || !owns(sc, u) {
			return "", fmt.Errorf("user cannot review script %d: %w", sc.ID, errDenied)
		}
		sc.ReviewNotes = notes
		sc.Status = status.AwaitingApproval
		return notes, nil
	})
}

func (s *Store) Vote(id, userID int64, approve bool, justification string) (domain.Script, error) {
	return s.mutate(id, userID, func(sc *domain.Script, u domain.Actor) (string, error) {
		if (sc.Status != status.AwaitingApproval && sc.Status != status.InApproval) || u.Role != domain.RoleApprover {
			return "", fmt.Errorf("user cannot vote on script %d: %w", sc.ID, errDenied)
		}
		for _, v := range sc.Votes {
			if v.Actor.ID == u.ID {
				return "", fmt.Errorf("user %d already voted on script %d: %w", u.ID, sc.ID, errDenied)
			}
		}
		sc.Votes = append(sc.Votes, domain.Vote{Actor: u, Approve: approve, Justification: justification})
		sc.Status = status.InApproval
		sc.Assignee = &u
		var against, favor int
		for _, v := range sc.Votes {
			if v.Approve {
				favor++
			} else {
				against++
			}
		}
		switch {
		case against > 0:
			sc.Status = status.Rejected
		case favor >= 2:
			sc.Status = status.Approved
		}
		return justification, nil
	})
}

// mutate runs fn under the lock and records a history entry when the
// status changes.
func (s *Store) mutate(id, userID int64, fn func(*domain.Script, domain.Actor) (string, error)) (domain.Script, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scripts[id]
	if !ok {
		return domain.Script{}, fmt.Errorf("script %d: %w", id, errNotFound)
	}
	u, ok := s.users[userID]
	if !ok {
		return domain.Script{}, fmt.Errorf("user %d: %w", userID, errNotFound)
	}
	before := sc.Status
	note, err := fn(sc, u.actor)
	if err != nil {
		return domain.Script{}, err
	}
	if sc.Status != before {
		sc.History = append(sc.History, domain.HistoryEntry{Status: sc.Status, Actor: u.actor.Name, At: s.now(), Note: note})
	}
	return clone(sc), nil
}

func owns(sc *domain.Script, u domain.Actor) bool {
	return sc.Assignee != nil && sc.Assignee.ID == u.ID
}

func clone(sc *domain.Script) domain.Script {
	cp := *sc
	if sc.Assignee != nil {
		a := *sc.Assignee
		cp.Assignee = &a
	}
	cp.Votes = append([]domain.Vote(nil), sc.Votes...)
	cp.History = append([]domain.HistoryEntry(nil), sc.History...)
	return cp
}

// Seed registers one account per role plus a second approver, all with
// password "secret".
func Seed(s *Store) ([]domain.Actor, error) {
	accounts := []struct {
		name, email string
		role        domain.Role
	}{
		{"Ana Analyst", "analyst@coop.film", domain.RoleAnalyst},
		{"Rui Reviewer", "reviewer@coop.film", domain.RoleReviewer},
		{"Paula Approver", "approver@coop.film", domain.RoleApprover},
		{"Otto Approver", "approver2@coop.film", domain.RoleApprover},
	}
	var out []domain.Actor
	for _, a := range accounts {
		actor, err := s.AddUser(a.name, a.email, "secret", a.role)
		if err != nil {
			return nil, err
		}
		out = append(out, actor)
	}
	return out, nil
}
