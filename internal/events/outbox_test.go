package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestOutboxInsertAndFetch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "tenant-1", "conversation.message.received.v1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if _, err := store.Insert(context.Background(), nil, "tenant-1", "conversation.message.received.v1", MessageReceivedV1{TenantID: "tenant-1"}); err != nil {
		t.Fatalf("insert outbox: %v", err)
	}

	id := uuid.New()
	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	mock.ExpectQuery("SELECT id, tenant_id, type, payload, created_at").
		WithArgs(int32(25)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "type", "payload", "created_at"}).
			AddRow(id, "tenant-1", "conversation.escalated.v1", payload, time.Now()))

	entries, err := store.FetchPending(context.Background(), 25)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestOutboxMarkDelivered(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)
	id := uuid.New()
	mock.ExpectExec("UPDATE outbox").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if !ok {
		t.Fatal("expected delivery to be recorded")
	}
}

type recordingHandler struct {
	entries []OutboxEntry
	fail    bool
}

func (h *recordingHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	if h.fail {
		return errors.New("sink down")
	}
	h.entries = append(h.entries, entry)
	return nil
}

func TestDelivererDrain(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)
	id := uuid.New()
	mock.ExpectQuery("SELECT id, tenant_id, type, payload, created_at").
		WithArgs(int32(25)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "type", "payload", "created_at"}).
			AddRow(id, "tenant-1", "conversation.routed.v1", []byte(`{}`), time.Now()))
	mock.ExpectExec("UPDATE outbox").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	handler := &recordingHandler{}
	deliverer := NewDeliverer(store, handler, nil)
	deliverer.drain(context.Background())

	if len(handler.entries) != 1 {
		t.Fatalf("expected one delivered entry, got %d", len(handler.entries))
	}
}

func TestDelivererDrainHandlerFailureLeavesPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newOutboxStoreWithExec(mock)
	mock.ExpectQuery("SELECT id, tenant_id, type, payload, created_at").
		WithArgs(int32(25)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "type", "payload", "created_at"}).
			AddRow(uuid.New(), "tenant-1", "conversation.routed.v1", []byte(`{}`), time.Now()))

	handler := &recordingHandler{fail: true}
	deliverer := NewDeliverer(store, handler, nil)
	// No UPDATE expectation: a failed handler must not mark the entry delivered.
	deliverer.drain(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
