// Package validate checks form input at the boundary, before anything is
// dispatched to the script service.
package validate

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"unicode/utf8"

	"scriptdesk/internal/domain"
	"scriptdesk/internal/failure"
)

// Errors collects field messages. It unwraps to failure.ErrValidation.
type Errors map[string]string

func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e[k]))
	}
	return strings.Join(parts, "; ")
}

func (e Errors) Unwrap() error { return failure.ErrValidation }

func (e Errors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func length(errs Errors, field, value string, min, max int) {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	switch {
	case n == 0:
		errs[field] = "is required"
	case n < min:
		errs[field] = fmt.Sprintf("must have at least %d characters", min)
	case max > 0 && n > max:
		errs[field] = fmt.Sprintf("must have at most %d characters", max)
	}
}

func email(errs Errors, field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		errs[field] = "is required"
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		errs[field] = "must be a valid email address"
	}
}

// Submission enforces the intake form rules.
func Submission(s domain.Submission) error {
	errs := Errors{}
	length(errs, "title", s.Title, 2, 200)
	length(errs, "content", s.Content, 10, 0)
	length(errs, "name", s.Submitter.Name, 2, 100)
	email(errs, "email", s.Submitter.Email)
	if _, bad := errs["email"]; !bad {
		length(errs, "email", s.Submitter.Email, 5, 100)
	}
	length(errs, "phone", s.Submitter.Phone, 7, 20)
	return errs.orNil()
}

func Credentials(c domain.Credentials) error {
	errs := Errors{}
	email(errs, "email", c.Email)
	if strings.TrimSpace(c.Password) == "" {
		errs["password"] = "is required"
	}
	return errs.orNil()
}

func Registration(r domain.Registration) error {
	errs := Errors{}
	length(errs, "name", r.Name, 2, 100)
	email(errs, "email", r.Email)
	length(errs, "password", r.Password, 6, 0)
	if r.Role.Wire() == "" {
		errs["role"] = "must be analyst, reviewer or approver"
	}
	return errs.orNil()
}

// Email validates a single lookup address.
func Email(value string) error {
	errs := Errors{}
	email(errs, "email", value)
	return errs.orNil()
}

// Note requires a non-blank justification.
func Note(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Errors{field: "is required"}
	}
	if utf8.RuneCountInString(value) > 1000 {
		return Errors{field: "must have at most 1000 characters"}
	}
	return nil
}
