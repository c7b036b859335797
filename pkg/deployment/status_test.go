package deployment

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusSucceeded, false},
		{StatusInProgress, StatusSucceeded, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusPending, false},
		{StatusSucceeded, StatusInProgress, false},
		{StatusSucceeded, StatusDestroying, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusInProgress, false},
		{StatusDestroying, StatusDestroyed, true},
		{StatusDestroying, StatusSucceeded, false},
		{StatusDestroyed, StatusPending, true},
		{StatusDestroyed, StatusInProgress, false},
		{StatusInProgress, StatusInProgress, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusSucceeded, StatusFailed, StatusDestroyed} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
		if s.NeedsReconcile() {
			t.Errorf("expected %s not to need reconciliation", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusInProgress, StatusDestroying} {
		if s.IsTerminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
		if !s.IsActive() {
			t.Errorf("expected %s to be active", s)
		}
	}
	if !StatusFailed.Resubmittable() || !StatusDestroyed.Resubmittable() || StatusSucceeded.Resubmittable() {
		t.Error("unexpected resubmittable set")
	}
	if err := Status("bogus").Validate(); err == nil {
		t.Error("expected invalid status to fail validation")
	}
}

func TestErrorCodes(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewConflictError(ErrCodeConflictInProgress, "busy").WithJob("acme-co-prod"))

	if !IsConflict(err) {
		t.Error("expected conflict classification")
	}
	if CodeOf(err) != ErrCodeConflictInProgress {
		t.Errorf("expected code %s, got %s", ErrCodeConflictInProgress, CodeOf(err))
	}
	if !errors.Is(err, &Error{Code: ErrCodeConflictInProgress}) {
		t.Error("expected errors.Is to match on code")
	}
	if errors.Is(err, &Error{Code: ErrCodeNotFound}) {
		t.Error("expected errors.Is not to match a different code")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("expected empty code for plain errors")
	}
}
