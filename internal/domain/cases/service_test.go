package cases_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careline/careline/internal/domain/cases"
	"github.com/careline/careline/internal/domain/cases/casetest"
	"github.com/careline/careline/internal/platform/bus"
	"github.com/careline/careline/internal/platform/db"
	"github.com/careline/careline/internal/platform/errs"
)

func newService(store *casetest.Store) *cases.Service {
	return cases.NewService(
		db.PassthroughTxRunner(),
		store.CaseRepo(),
		store.VitalsRepo(),
		store.MedicationRepo(),
		store.SymptomRepo(),
		store.AssessmentRepo(),
		store.AdviceRepo(),
		store.AuditRecorder(),
		store.Publisher(),
	)
}

func seedCase(t *testing.T, store *casetest.Store, phwID string, status cases.Status) *cases.Case {
	t.Helper()
	c := &cases.Case{
		PHWID:          phwID,
		Status:         status,
		ChiefComplaint: "fever and cough for three days",
		PatientAge:     40,
		PatientSex:     "female",
	}
	if err := store.CaseRepo().Create(context.Background(), c); err != nil {
		t.Fatalf("seed case: %v", err)
	}
	// Create copies the input; mutate the stored row for status.
	stored := store.Cases[c.ID]
	stored.Status = status
	return stored
}

func actor(userID string) cases.Actor {
	return cases.Actor{UserID: userID, IPAddress: "10.0.0.1", RequestID: "req-9"}
}

func TestClose_HappyPath(t *testing.T) {
	store := casetest.NewStore()
	svc := newService(store)
	c := seedCase(t, store, "phw-1", cases.StatusAdvised)
	hash := "somehash"
	exp := time.Now().Add(time.Hour)
	c.EscalationTokenHash = &hash
	c.EscalationExpiresAt = &exp

	if err := svc.Close(context.Background(), c.ID, actor("phw-1")); err != nil {
		t.Fatalf("close: %v", err)
	}

	stored := store.Cases[c.ID]
	if stored.Status != cases.StatusClosed {
		t.Errorf("status = %s, want closed", stored.Status)
	}
	if stored.EscalationTokenHash != nil {
		t.Error("closing must revoke the live escalation token")
	}
	events := store.EventsOfType(bus.EventStatusUpdate)
	if len(events) != 1 || events[0].Status != string(cases.StatusClosed) {
		t.Errorf("events = %+v", events)
	}
	if !containsAction(store.AuditActions(), "case.transition") {
		t.Errorf("audit trail %v missing transition", store.AuditActions())
	}
}

func TestClose_OnlyOwnerMayClose(t *testing.T) {
	store := casetest.NewStore()
	svc := newService(store)
	c := seedCase(t, store, "phw-1", cases.StatusAnalyzed)

	err := svc.Close(context.Background(), c.ID, actor("phw-2"))
	if e, ok := errs.As(err); !ok || e.Kind != errs.KindAuth {
		t.Fatalf("err = %v, want auth error", err)
	}
	if store.Cases[c.ID].Status != cases.StatusAnalyzed {
		t.Error("status must not change on a denied close")
	}
}

func TestClose_FromClosedIsStateError(t *testing.T) {
	store := casetest.NewStore()
	svc := newService(store)
	c := seedCase(t, store, "phw-1", cases.StatusClosed)

	err := svc.Close(context.Background(), c.ID, actor("phw-1"))
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindState {
		t.Fatalf("err = %v, want state error", err)
	}
}

func TestCancel_TerminalFromAnyNonClosed(t *testing.T) {
	for _, status := range []cases.Status{cases.StatusIntake, cases.StatusAnalyzed, cases.StatusEscalated, cases.StatusAdvised} {
		store := casetest.NewStore()
		svc := newService(store)
		c := seedCase(t, store, "phw-1", status)

		if err := svc.Cancel(context.Background(), c.ID, actor("phw-1")); err != nil {
			t.Fatalf("cancel from %s: %v", status, err)
		}
		if store.Cases[c.ID].Status != cases.StatusCancelled {
			t.Errorf("status = %s, want cancelled", store.Cases[c.ID].Status)
		}
	}

	store := casetest.NewStore()
	svc := newService(store)
	c := seedCase(t, store, "phw-1", cases.StatusClosed)
	if err := svc.Cancel(context.Background(), c.ID, actor("phw-1")); err == nil {
		t.Error("cancel from closed must fail")
	}
}

func TestGet_ScopedToOwner(t *testing.T) {
	store := casetest.NewStore()
	svc := newService(store)
	c := seedCase(t, store, "phw-1", cases.StatusAnalyzed)

	if _, err := svc.Get(context.Background(), c.ID, "phw-1"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.Get(context.Background(), c.ID, "phw-2"); err == nil {
		t.Error("foreign read must be rejected")
	}
	if _, err := svc.Get(context.Background(), uuid.New(), "phw-1"); err == nil {
		t.Error("unknown case must be not found")
	}
}

func TestGet_SoftDeletedInvisible(t *testing.T) {
	store := casetest.NewStore()
	svc := newService(store)
	c := seedCase(t, store, "phw-1", cases.StatusAnalyzed)

	if err := store.CaseRepo().SoftDelete(context.Background(), c.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := svc.Get(context.Background(), c.ID, "phw-1"); err == nil {
		t.Error("soft-deleted case must be invisible to reads")
	}
	items, total, err := svc.List(context.Background(), "phw-1", 20, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("list returned soft-deleted case: %v", items)
	}
}

func TestList_Pagination(t *testing.T) {
	store := casetest.NewStore()
	svc := newService(store)
	for i := 0; i < 5; i++ {
		seedCase(t, store, "phw-1", cases.StatusAnalyzed)
	}
	seedCase(t, store, "phw-2", cases.StatusAnalyzed)

	items, total, err := svc.List(context.Background(), "phw-1", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(items) != 2 {
		t.Errorf("page size = %d, want 2", len(items))
	}
}

func containsAction(actions []string, want string) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}
