package redis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/datatrails/go-datatrails-ledger/errhandling"
)

func TestKeyspaceKey(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		parts     []string
		expected  string
	}{
		{"singleton", "shop", []string{"market", ""}, "{shop}:market:"},
		{"per user", "shop", []string{"inventory", "user0"}, "{shop}:inventory:user0"},
		{"counter hash", "stats", []string{"count", "5", "hits"}, "{stats}:count:5:hits"},
		{"no namespace", "", []string{"known", ""}, "known:"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, NewKeyspace(test.namespace).Key(test.parts...))
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		err      error
		expected Outcome
	}{
		{nil, OutcomeCommitted},
		{Rejectf("funds %d < price %d", 1, 2), OutcomeRejected},
		{fmt.Errorf("purchase: %w", Rejectf("gone")), OutcomeRejected},
		{TimedOutError("purchase", 12, nil), OutcomeTimedOut},
		{UnavailableError(cause, "purchase"), OutcomeUnavailable},
		{cause, OutcomeUnavailable},
	}
	for _, test := range tests {
		t.Run(test.expected.String(), func(t *testing.T) {
			assert.Equal(t, test.expected, OutcomeOf(test.err))
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")

	err := UnavailableError(cause, "list")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "redis store unavailable list: connection refused", err.Error())

	err = TimedOutError("purchase", 3, nil)
	assert.True(t, errhandling.IsTransient(err))
	assert.Equal(t, "transient error: timed out purchase: after 3 attempts", err.Error())

	assert.Equal(t, "rejected: item0.user0 not listed", Rejectf("%s not listed", "item0.user0").Error())
	assert.Equal(t, "unknown", Outcome(42).String())
}
