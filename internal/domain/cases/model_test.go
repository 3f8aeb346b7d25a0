package cases

import (
	"testing"
	"time"
)

func TestCanTransition_ForwardOnly(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusIntake, StatusAnalyzed},
		{StatusAnalyzed, StatusEscalated},
		{StatusEscalated, StatusSpecialistReviewing},
		{StatusSpecialistReviewing, StatusAdvised},
		{StatusAdvised, StatusClosed},
		// Forward jumps are legal: advice in the escalated state moves the
		// case straight to advised, and a PHW may close an analyzed case.
		{StatusAnalyzed, StatusClosed},
		{StatusEscalated, StatusAdvised},
		// Re-mint and repeat advice keep the status in place.
		{StatusEscalated, StatusEscalated},
		{StatusAdvised, StatusAdvised},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusAnalyzed, StatusIntake},
		{StatusEscalated, StatusAnalyzed},
		{StatusClosed, StatusAdvised},
		{StatusClosed, StatusEscalated},
		{StatusAdvised, StatusSpecialistReviewing},
		{StatusIntake, StatusIntake},
		{StatusAnalyzed, StatusAnalyzed},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
		}
	}
}

func TestCanTransition_Cancelled(t *testing.T) {
	for _, from := range []Status{StatusIntake, StatusAnalyzed, StatusEscalated, StatusSpecialistReviewing, StatusAdvised} {
		if !CanTransition(from, StatusCancelled) {
			t.Errorf("cancelled must be reachable from %s", from)
		}
	}
	if CanTransition(StatusClosed, StatusCancelled) {
		t.Error("closed is terminal; cancel must be rejected")
	}
	if CanTransition(StatusCancelled, StatusClosed) || CanTransition(StatusCancelled, StatusAnalyzed) {
		t.Error("cancelled is terminal")
	}
}

func TestCanTransition_NoEscapeFromDeclaredSet(t *testing.T) {
	// No sequence of transitions can leave the declared status set: every
	// reachable target from every status must itself be a valid status.
	all := []Status{StatusIntake, StatusAnalyzed, StatusEscalated, StatusSpecialistReviewing, StatusAdvised, StatusClosed, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			if CanTransition(from, to) && !to.Valid() {
				t.Errorf("transition %s -> %s reaches an undeclared status", from, to)
			}
		}
		if CanTransition(from, Status("exploded")) {
			t.Errorf("undeclared status reachable from %s", from)
		}
	}
}

func TestHasLiveToken(t *testing.T) {
	now := time.Now().UTC()
	hash := "abc"
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	if (&Case{}).HasLiveToken(now) {
		t.Error("case without token must not report a live token")
	}
	if !(&Case{EscalationTokenHash: &hash, EscalationExpiresAt: &future}).HasLiveToken(now) {
		t.Error("unexpired token must be live")
	}
	if (&Case{EscalationTokenHash: &hash, EscalationExpiresAt: &past}).HasLiveToken(now) {
		t.Error("expired token must not be live")
	}
}

func TestAdviceAllowed(t *testing.T) {
	for _, s := range []Status{StatusEscalated, StatusSpecialistReviewing, StatusAdvised} {
		if !AdviceAllowed(s) {
			t.Errorf("advice must be allowed in %s", s)
		}
	}
	for _, s := range []Status{StatusIntake, StatusAnalyzed, StatusClosed, StatusCancelled} {
		if AdviceAllowed(s) {
			t.Errorf("advice must be rejected in %s", s)
		}
	}
}
