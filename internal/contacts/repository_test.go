package contacts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func contactRows(id uuid.UUID, lastSeen time.Time, created bool) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "tenant_id", "provider", "provider_contact_id", "display_name",
		"lifecycle_stage", "lead_score", "tags", "first_seen_at", "last_seen_at",
		"created", "previous_seen",
	}).AddRow(id, "tenant-1", "whatsapp", "15550001111", "Ada",
		StageUnknown, 0, []string{}, lastSeen, lastSeen, created, lastSeen)
}

func TestUpsertCreatesContact(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs("tenant-1", "whatsapp", "15550001111", "Ada", pgxmock.AnyArg()).
		WillReturnRows(contactRows(id, now, true))

	contact, created, err := repo.Upsert(context.Background(), "tenant-1", "whatsapp", "15550001111", UpsertDefaults{DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if contact.LifecycleStage != StageUnknown || contact.LeadScore != 0 {
		t.Fatalf("new contact defaults wrong: %+v", contact)
	}
}

func TestUpsertExistingReportsPreviousSeen(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	id := uuid.New()
	lastWeek := time.Now().UTC().Add(-7 * 24 * time.Hour)

	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs("tenant-1", "whatsapp", "15550001111", "", pgxmock.AnyArg()).
		WillReturnRows(contactRows(id, lastWeek, false))

	contact, created, err := repo.Upsert(context.Background(), "tenant-1", "whatsapp", "15550001111", UpsertDefaults{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if created {
		t.Fatal("expected created=false for existing contact")
	}
	if days := contact.DaysSinceLastSeen(time.Now().UTC()); days < 6 || days > 8 {
		t.Fatalf("expected roughly 7 days since last seen, got %d", days)
	}
}

func TestUpsertRequiresProviderContactID(t *testing.T) {
	repo := NewRepository(newMock(t))
	if _, _, err := repo.Upsert(context.Background(), "tenant-1", "whatsapp", "  ", UpsertDefaults{}); err == nil {
		t.Fatal("expected error for blank provider contact id")
	}
}

func TestSetLifecycleStage(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectExec("UPDATE contacts SET lifecycle_stage").
		WithArgs("tenant-1", "contact-1", StageCustomer).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := repo.SetLifecycleStage(context.Background(), "tenant-1", "contact-1", StageCustomer); err != nil {
		t.Fatalf("set stage: %v", err)
	}

	if err := repo.SetLifecycleStage(context.Background(), "tenant-1", "contact-1", "vip"); err == nil {
		t.Fatal("expected rejection of unknown stage")
	}
}

func TestSetLifecycleStageNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	mock.ExpectExec("UPDATE contacts SET lifecycle_stage").
		WithArgs("tenant-1", "missing", StageLead).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := repo.SetLifecycleStage(context.Background(), "tenant-1", "missing", StageLead)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
