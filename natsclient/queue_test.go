package natsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jacobfgrant/anejo/errors"
)

func TestResultFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome Outcome
	}{
		{"nil acks", nil, Done},
		{"transient requeues", errors.ErrCapacityExceeded, Requeue},
		{"unknown requeues", errors.New("socket reset"), Requeue},
		{"malformed input discards", errors.ErrParsingFailed, Discard},
		{"no usable dist discards", errors.ErrNoUsableDist, Discard},
		{"wrapped invalid discards", errors.WrapInvalid(errors.ErrParsingFailed, "c", "m", "a"), Discard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.outcome, ResultFromError(tt.err).Outcome)
		})
	}
}

func TestRetryCarriesDelay(t *testing.T) {
	r := Retry(30 * time.Second)
	assert.Equal(t, Requeue, r.Outcome)
	assert.Equal(t, 30*time.Second, r.Delay)
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))
	assert.True(t, IsKVConflictError(errors.New("nats: wrong last sequence: 17")))
	assert.True(t, IsKVConflictError(errors.ErrRevisionMismatch))
	assert.True(t, IsKVCapacityError(errors.New("nats: insufficient storage resources available")))
	assert.False(t, IsKVCapacityError(errors.New("nats: timeout")))
	assert.False(t, IsKVNotFoundError(nil))
}
