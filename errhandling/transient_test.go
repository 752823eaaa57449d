package errhandling

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errContended = errors.New("contended")

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain", errContended, false},
		{"transient", NewTransientError(errContended), true},
		{"wrapped transient", fmt.Errorf("purchase: %w", NewTransientError(errContended)), true},
		{"formatted", NewTransientErrorf("after %d attempts: %w", 3, errContended), true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestTransientUnwrap(t *testing.T) {
	err := NewTransientErrorf("after %d attempts: %w", 3, errContended)
	assert.ErrorIs(t, err, errContended)
	assert.Equal(t, "transient error: after 3 attempts: contended", err.Error())
	assert.Nil(t, NewTransientError(nil))
}
