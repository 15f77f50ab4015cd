package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindUnwrapsChains(t *testing.T) {
	err := fmt.Errorf("assume analysis: %w", fmt.Errorf("api: %w", ErrConflict))
	assert.Equal(t, ErrConflict, Kind(err))
	assert.Nil(t, Kind(errors.New("plain")))
}

func TestMessageNeverEmpty(t *testing.T) {
	for _, err := range []error{
		ErrNotFound, ErrUnauthenticated, ErrConflict, ErrValidation, ErrTransient,
		ErrForbidden, ErrNotPermitted, ErrInFlight, ErrBackend, errors.New("boom"),
	} {
		assert.NotEmpty(t, Message(err), "kind %v", err)
	}
	assert.Empty(t, Message(nil))
}

func TestMessageDistinguishesSessionExpiry(t *testing.T) {
	assert.Contains(t, Message(ErrUnauthenticated), "sd login")
	assert.NotEqual(t, Message(ErrUnauthenticated), Message(ErrBackend))
}
