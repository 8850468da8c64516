package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/conduitcrm/messaging-engine/internal/routing"
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

func conversationRow(id, contactID uuid.UUID, status string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{
		"id", "tenant_id", "contact_id", "provider", "status", "priority", "category",
		"assigned_team_id", "assigned_agent_id", "tags", "created_at", "updated_at",
	}).AddRow(id, "tenant-1", contactID, "whatsapp", status, "medium", "general",
		nil, nil, []string{}, now, now)
}

func TestGetOrOpenReusesOpenConversation(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	convID, contactID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT id, tenant_id, contact_id").
		WithArgs("tenant-1", contactID, "whatsapp").
		WillReturnRows(conversationRow(convID, contactID, StatusEscalated))

	conv, opened, err := store.GetOrOpen(context.Background(), "tenant-1", contactID, "whatsapp")
	if err != nil {
		t.Fatalf("get or open: %v", err)
	}
	if opened {
		t.Fatal("existing open conversation must be reused, not recreated")
	}
	if conv.ID != convID || conv.Status != StatusEscalated {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
}

func TestGetOrOpenCreatesWhenNoneOpen(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	contactID := uuid.New()
	newID := uuid.New()

	mock.ExpectQuery("SELECT id, tenant_id, contact_id").
		WithArgs("tenant-1", contactID, "whatsapp").
		WillReturnError(errNoRowsForTest())
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), "tenant-1", contactID, "whatsapp").
		WillReturnRows(conversationRow(newID, contactID, StatusActive))

	conv, opened, err := store.GetOrOpen(context.Background(), "tenant-1", contactID, "whatsapp")
	if err != nil {
		t.Fatalf("get or open: %v", err)
	}
	if !opened {
		t.Fatal("expected opened=true for fresh conversation")
	}
	if conv.Priority != "medium" || conv.Category != "general" || conv.Status != StatusActive {
		t.Fatalf("new conversation defaults wrong: %+v", conv)
	}
}

func TestGetOrOpenLosingInsertRetriesAsRead(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	contactID := uuid.New()
	winnerID := uuid.New()

	mock.ExpectQuery("SELECT id, tenant_id, contact_id").
		WithArgs("tenant-1", contactID, "whatsapp").
		WillReturnError(errNoRowsForTest())
	// ON CONFLICT DO NOTHING returns no rows when a concurrent insert won.
	mock.ExpectQuery("INSERT INTO conversations").
		WithArgs(pgxmock.AnyArg(), "tenant-1", contactID, "whatsapp").
		WillReturnError(errNoRowsForTest())
	mock.ExpectQuery("SELECT id, tenant_id, contact_id").
		WithArgs("tenant-1", contactID, "whatsapp").
		WillReturnRows(conversationRow(winnerID, contactID, StatusActive))

	conv, opened, err := store.GetOrOpen(context.Background(), "tenant-1", contactID, "whatsapp")
	if err != nil {
		t.Fatalf("losing insert must resolve as read: %v", err)
	}
	if opened {
		t.Fatal("loser must report opened=false")
	}
	if conv.ID != winnerID {
		t.Fatalf("expected winner's conversation, got %+v", conv)
	}
}

func TestEscalateIdempotent(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	convID := uuid.New()

	mock.ExpectExec("UPDATE conversations").
		WithArgs("tenant-1", convID, EscalatedTag).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	escalated, err := store.Escalate(context.Background(), nil, "tenant-1", convID)
	if err != nil || !escalated {
		t.Fatalf("first escalate: escalated=%v err=%v", escalated, err)
	}

	// Already escalated: the status predicate matches no rows.
	mock.ExpectExec("UPDATE conversations").
		WithArgs("tenant-1", convID, EscalatedTag).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	escalated, err = store.Escalate(context.Background(), nil, "tenant-1", convID)
	if err != nil {
		t.Fatalf("re-escalate must be a no-op, not an error: %v", err)
	}
	if escalated {
		t.Fatal("re-escalate must report no transition")
	}
}

func TestApplyMutationSkipsEmpty(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)

	// No expectations set: an empty mutation must not touch the database.
	if err := store.ApplyMutation(context.Background(), nil, "tenant-1", uuid.New(), &routing.Mutation{}); err != nil {
		t.Fatalf("empty mutation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database access: %v", err)
	}
}

func TestApplyMutationUpdates(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	convID := uuid.New()
	teamID := uuid.New()

	mock.ExpectExec("UPDATE conversations").
		WithArgs("tenant-1", convID, "urgent", "", &teamID, (*uuid.UUID)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	err := store.ApplyMutation(context.Background(), nil, "tenant-1", convID, &routing.Mutation{
		Priority:     "urgent",
		AssignTeamID: &teamID,
	})
	if err != nil {
		t.Fatalf("apply mutation: %v", err)
	}
}

func errNoRowsForTest() error {
	return pgx.ErrNoRows
}
