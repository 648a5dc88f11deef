package circulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		action  Action
		want    State
		wantErr bool
	}{
		{NoLoan, ActionCheckout, OnLoan, false},
		{OnLoan, ActionExtend, OnLoan, false},
		{OnLoan, ActionCheckin, NoLoan, false},
		{NoLoan, ActionExtend, NoLoan, true},
		{NoLoan, ActionCheckin, NoLoan, true},
		{OnLoan, ActionCheckout, OnLoan, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+string(tt.action), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// A random walk of accepted actions always alternates checkouts and checkins.
func TestNextWalk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		actions := rapid.SliceOf(rapid.SampledFrom([]Action{ActionCheckout, ActionExtend, ActionCheckin})).Draw(t, "actions")

		state := NoLoan
		open := 0
		for _, a := range actions {
			next, err := Next(state, a)
			if err != nil {
				if next != state {
					t.Fatalf("rejected %s moved state %s -> %s", a, state, next)
				}
				continue
			}
			switch a {
			case ActionCheckout:
				open++
			case ActionCheckin:
				open--
			}
			state = next
		}
		if open < 0 || open > 1 {
			t.Fatalf("open loans = %d", open)
		}
		if (open == 1) != (state == OnLoan) {
			t.Fatalf("state %s with %d open loans", state, open)
		}
	})
}

func TestOverdue(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	assert.False(t, Loan{}.Overdue(now), "unknown due date")
	assert.False(t, Loan{DueDate: now.Add(time.Hour)}.Overdue(now))
	assert.True(t, Loan{DueDate: now.Add(-time.Hour)}.Overdue(now))
	assert.True(t, CheckedOutBook{DueDate: now.Add(-time.Minute)}.Overdue(now))
	assert.False(t, CheckedOutBook{}.Overdue(now))
}
