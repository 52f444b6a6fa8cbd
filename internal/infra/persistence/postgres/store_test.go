package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"

	"miqa/pkg/domain"
)

// Integration coverage requires a reachable server; set MIQA_TEST_POSTGRES_DSN
// to run it.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MIQA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MIQA_TEST_POSTGRES_DSN not set")
	}
	store, err := NewStore(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.DB().Exec(`DROP TABLE IF EXISTS state`)
		_ = store.DB().Close()
	})
	return store
}

func TestPersistsAcrossReopen(t *testing.T) {
	store := openTestStore(t)
	if err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateProject(domain.Project{ID: "p1", Name: "proj"})
		return err
	}); err != nil {
		t.Fatalf("transaction: %v", err)
	}

	reopened, err := NewStore(os.Getenv("MIQA_TEST_POSTGRES_DSN"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.DB().Close() }()
	if err := reopened.View(context.Background(), func(view domain.TransactionView) error {
		if _, ok := view.FindProjectByName("proj"); !ok {
			t.Fatal("project missing after reopen")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRunInProjectTransactionSerializes(t *testing.T) {
	store := openTestStore(t)
	if err := store.RunInProjectTransaction(context.Background(), "proj", func(tx domain.Transaction) error {
		_, err := tx.CreateProject(domain.Project{ID: "p1", Name: "proj"})
		return err
	}); err != nil {
		t.Fatalf("project transaction: %v", err)
	}
	if err := store.View(context.Background(), func(view domain.TransactionView) error {
		if _, ok := view.FindProjectByName("proj"); !ok {
			t.Fatal("project missing")
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestNewStoreOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, fmt.Errorf("refused")
	})
	defer restore()
	if _, err := NewStore("postgres://nowhere/miqa"); err == nil {
		t.Fatal("expected open error")
	}
}
