package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionsFollowStateMachine(t *testing.T) {
	tests := []struct {
		name string
		path []Status
		ok   bool
	}{
		{"happy quarantine", []Status{StatusInProgress, StatusQuarantined}, true},
		{"quarantine then promote", []Status{StatusInProgress, StatusQuarantined, StatusPromoted}, true},
		{"quarantine then delete", []Status{StatusInProgress, StatusQuarantined, StatusDeleted}, true},
		{"fail mid-transfer", []Status{StatusInProgress, StatusFailed}, true},
		{"fail before bytes", []Status{StatusFailed}, true},
		{"skip in-progress", []Status{StatusQuarantined}, false},
		{"re-enter pending", []Status{StatusInProgress, StatusPending}, false},
		{"promote without quarantine", []Status{StatusInProgress, StatusPromoted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{ID: "dl_test", Status: StatusPending}
			var err error
			for _, next := range tt.path {
				if err = rec.transition(next); err != nil {
					break
				}
			}
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, terminal := range []Status{StatusPromoted, StatusDeleted, StatusFailed} {
		rec := &Record{ID: "dl_test", Status: terminal}
		for _, next := range []Status{StatusPending, StatusInProgress, StatusQuarantined, StatusPromoted, StatusDeleted, StatusFailed} {
			err := rec.transition(next)
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, next)
		}
	}
}

func TestUndecided(t *testing.T) {
	undecided := []Status{StatusPending, StatusInProgress, StatusQuarantined}
	decided := []Status{StatusPromoted, StatusDeleted, StatusFailed}

	for _, s := range undecided {
		assert.True(t, (&Record{Status: s}).Undecided(), s)
	}
	for _, s := range decided {
		assert.False(t, (&Record{Status: s}).Undecided(), s)
	}
}
