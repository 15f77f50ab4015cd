package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
)

func validSubmission() domain.Submission {
	return domain.Submission{
		Title:   "Test Script",
		Content: "INT. HOUSE - DAY. A writer stares at the screen.",
		Submitter: domain.Submitter{
			Name:  "Joana Silva",
			Email: "joana@example.com",
			Phone: "11987654321",
		},
	}
}

func TestSubmissionValid(t *testing.T) {
	require.NoError(t, Submission(validSubmission()))
}

func TestSubmissionCollectsFieldErrors(t *testing.T) {
	s := validSubmission()
	s.Title = "x"
	s.Content = "short"
	s.Submitter.Email = "not-an-email"
	s.Submitter.Phone = ""

	err := Submission(s)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrValidation)

	var fe Errors
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe, "title")
	assert.Contains(t, fe, "content")
	assert.Contains(t, fe, "email")
	assert.Equal(t, "is required", fe["phone"])
	assert.NotContains(t, fe, "name")
}

func TestSubmissionTitleTooLong(t *testing.T) {
	s := validSubmission()
	s.Title = strings.Repeat("a", 201)
	var fe Errors
	require.ErrorAs(t, Submission(s), &fe)
	assert.Contains(t, fe["title"], "at most 200")
}

func TestCredentials(t *testing.T) {
	require.NoError(t, Credentials(domain.Credentials{Email: "ana@coop.film", Password: "secret"}))
	err := Credentials(domain.Credentials{Email: "Ana <ana@coop.film>", Password: " "})
	var fe Errors
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe, "email")
	assert.Contains(t, fe, "password")
}

func TestRegistrationRole(t *testing.T) {
	err := Registration(domain.Registration{Name: "Rui", Email: "rui@coop.film", Password: "secret1", Role: "intern"})
	var fe Errors
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe, "role")
}

func TestNote(t *testing.T) {
	assert.NoError(t, Note("justification", "Strong narrative"))
	assert.ErrorIs(t, Note("justification", "   "), failure.ErrValidation)
}

func TestErrorsMessageIsStable(t *testing.T) {
	e := Errors{"title": "is required", "email": "is required"}
	assert.Equal(t, "email: is required; title: is required", e.Error())
}
