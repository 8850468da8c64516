package events

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestProcessedStoreMarkProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("whatsapp", "wamid.abc").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := store.MarkProcessed(context.Background(), "whatsapp", "wamid.abc")
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to report true")
	}
}

func TestProcessedStoreMarkProcessedDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("whatsapp", "wamid.abc").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.MarkProcessed(context.Background(), "whatsapp", "wamid.abc")
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate insert to report false")
	}
}

func TestProcessedStoreMarkProcessedInTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("whatsapp", "wamid.tx").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	tx, err := mock.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	inserted, err := store.MarkProcessedIn(context.Background(), tx, "whatsapp", "wamid.tx")
	if err != nil {
		t.Fatalf("mark processed in tx: %v", err)
	}
	if !inserted {
		t.Fatal("expected first insert to report true")
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreAlreadyProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	mock.ExpectQuery("SELECT 1 FROM processed_events").
		WithArgs("whatsapp", "wamid.miss").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	seen, err := store.AlreadyProcessed(context.Background(), "whatsapp", "wamid.miss")
	if err != nil {
		t.Fatalf("already processed: %v", err)
	}
	if seen {
		t.Fatal("expected unseen event id")
	}
}

func TestProcessedStorePrune(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	mock.ExpectExec("DELETE FROM processed_events").
		WithArgs("168h0m0s").
		WillReturnResult(pgxmock.NewResult("DELETE", 12))

	n, err := store.PruneOlderThan(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 12 {
		t.Fatalf("expected 12 pruned rows, got %d", n)
	}
}
