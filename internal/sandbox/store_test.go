package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/status"
)

func seeded(t *testing.T) (*Store, []domain.Actor) {
	t.Helper()
	s := NewStore()
	s.Now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	actors, err := Seed(s)
	require.NoError(t, err)
	return s, actors
}

func submission() domain.Submission {
	return domain.Submission{
		Title:     "Test Script",
		Content:   "FADE IN. A quiet harbour at dawn.",
		Submitter: domain.Submitter{Name: "Lia", Email: "lia@example.com", Phone: "5551234567"},
	}
}

func TestStoreFullApprovalPath(t *testing.T) {
	s, actors := seeded(t)
	analyst, reviewer, approver, approver2 := actors[0], actors[1], actors[2], actors[3]

	sc := s.Submit(submission())
	assert.Equal(t, status.Submitted, sc.Status)

	sc, err := s.AssumeAnalysis(sc.ID, analyst.ID)
	require.NoError(t, err)
	assert.Equal(t, status.InAnalysis, sc.Status)
	assert.Equal(t, analyst.ID, sc.Assignee.ID)

	sc, err = s.Analyze(sc.ID, analyst.ID, "Solid premise", true)
	require.NoError(t, err)
	assert.Equal(t, status.AwaitingReview, sc.Status)

	sc, err = s.AssumeReview(sc.ID, reviewer.ID)
	require.NoError(t, err)
	sc, err = s.Review(sc.ID, reviewer.ID, "")
	require.NoError(t, err)
	assert.Equal(t, status.AwaitingApproval, sc.Status)

	sc, err = s.Vote(sc.ID, approver.ID, true, "Strong narrative")
	require.NoError(t, err)
	assert.Equal(t, status.InApproval, sc.Status)
	assert.Equal(t, approver.ID, sc.Assignee.ID)

	_, err = s.Vote(sc.ID, approver.ID, true, "again")
	require.ErrorIs(t, err, errDenied)

	sc, err = s.Vote(sc.ID, approver2.ID, true, "Agreed")
	require.NoError(t, err)
	assert.Equal(t, status.Approved, sc.Status)
	assert.Len(t, sc.Votes, 2)

	var seen []status.Status
	for _, h := range sc.History {
		seen = append(seen, h.Status)
	}
	assert.Equal(t, []status.Status{
		status.Submitted, status.InAnalysis, status.AwaitingReview, status.InReview,
		status.AwaitingApproval, status.InApproval, status.Approved,
	}, seen)
}

func TestStoreVoteAgainstRejects(t *testing.T) {
	s, actors := seeded(t)
	s.Put(domain.Script{ID: 9, Title: "X", Status: status.AwaitingApproval})
	sc, err := s.Vote(9, actors[2].ID, false, "Weak ending")
	require.NoError(t, err)
	assert.Equal(t, status.Rejected, sc.Status)
}

func TestStoreClaimRules(t *testing.T) {
	s, actors := seeded(t)
	analyst, reviewer := actors[0], actors[1]
	s.Put(domain.Script{ID: 42, Title: "Claimed", Status: status.InAnalysis, Assignee: &domain.Actor{ID: 7, Name: "Other", Role: domain.RoleAnalyst}})

	_, err := s.AssumeAnalysis(42, analyst.ID)
	require.ErrorIs(t, err, errClaimed)

	sc, err := s.Script(42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sc.Assignee.ID)

	_, err = s.Analyze(42, analyst.ID, "mine now", true)
	require.ErrorIs(t, err, errDenied)

	_, err = s.AssumeReview(42, reviewer.ID)
	require.ErrorIs(t, err, errDenied)

	_, err = s.AssumeAnalysis(404, analyst.ID)
	require.ErrorIs(t, err, errNotFound)
}

func TestStoreLookupAndUsers(t *testing.T) {
	s, _ := seeded(t)
	s.SetNextScriptID(42)
	first := s.Submit(submission())
	second := s.Submit(submission())
	assert.Equal(t, int64(42), first.ID)
	assert.Equal(t, first.Submitter.ID, second.Submitter.ID)

	latest, err := s.LatestByEmail("LIA@example.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	_, err = s.LatestByEmail("nobody@example.com")
	require.ErrorIs(t, err, errNotFound)

	_, err = s.AddUser("Dup", "analyst@coop.film", "secret", domain.RoleAnalyst)
	require.ErrorIs(t, err, errDuplicate)
	_, err = s.Authenticate("analyst@coop.film", "wrong")
	require.ErrorIs(t, err, errInvalidLogin)
	a, err := s.Authenticate("analyst@coop.film", "secret")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAnalyst, a.Role)

	assert.Len(t, s.List(), 2)
}
