package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDefinitions(t *testing.T) {
	t.Parallel()

	errs := []error{
		ErrBadFilename,
		ErrMalformedFile,
		ErrLocked,
		ErrIntegrity,
	}

	t.Run("all errors are non-nil", func(t *testing.T) {
		t.Parallel()
		for i, err := range errs {
			require.NotNil(t, err, "error at index %d should not be nil", i)
		}
	})

	t.Run("all error messages are unique", func(t *testing.T) {
		t.Parallel()
		seen := make(map[string]bool)
		for _, err := range errs {
			msg := err.Error()
			assert.False(t, seen[msg], "duplicate error message: %s", msg)
			seen[msg] = true
		}
	})
}

func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("selecting backups: %w", ErrBadFilename)
	assert.True(t, errors.Is(wrapped, ErrBadFilename))
	assert.False(t, errors.Is(wrapped, ErrIntegrity))
}
