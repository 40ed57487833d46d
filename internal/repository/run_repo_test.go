package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/donorsync/reconcile-api/internal/database"
	"github.com/donorsync/reconcile-api/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := database.InitSchema(db); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func testRun(id string, started time.Time) *models.RunSummary {
	return &models.RunSummary{
		ID:             id,
		Timestamp:      started,
		ElapsedSeconds: 12.5,
		Days:           2,
		EmailSent:      true,
		ReportDir:      "reports/20260830_100000",
		Clients: []models.ClientRunSummary{
			{Name: "Acme Trust", TotalCheckouts: 5, TotalTransactions: 4, Matched: 3, Unmatched: 2, MatchRate: 60.0},
		},
		Totals: models.RunTotals{Matched: 3, Unmatched: 2, Errors: 0},
	}
}

func TestRunRepositoryCreateAndGet(t *testing.T) {
	repo := NewSQLiteRunRepository(setupTestDB(t))
	ctx := context.Background()

	run := testRun("run_01JX3", time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	if err := repo.Create(ctx, run); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "run_01JX3")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() = nil, want run")
	}
	if got.ID != run.ID || got.Totals.Matched != 3 || len(got.Clients) != 1 {
		t.Errorf("round-tripped run mismatch: %+v", got)
	}
	if !got.EmailSent {
		t.Error("EmailSent not preserved")
	}
}

func TestRunRepositoryGetByIDNotFound(t *testing.T) {
	repo := NewSQLiteRunRepository(setupTestDB(t))

	got, err := repo.GetByID(context.Background(), "run_missing")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetByID() = %+v, want nil", got)
	}
}

func TestRunRepositoryLatestAndList(t *testing.T) {
	repo := NewSQLiteRunRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run_a", "run_b", "run_c"} {
		if err := repo.Create(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	latest, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest == nil || latest.ID != "run_c" {
		t.Errorf("Latest() = %+v, want run_c", latest)
	}

	runs, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run_c" || runs[1].ID != "run_b" {
		t.Errorf("List() order = [%s %s], want [run_c run_b]", runs[0].ID, runs[1].ID)
	}
}

func TestRunRepositoryLatestEmpty(t *testing.T) {
	repo := NewSQLiteRunRepository(setupTestDB(t))

	latest, err := repo.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest != nil {
		t.Errorf("Latest() = %+v, want nil on empty table", latest)
	}
}
