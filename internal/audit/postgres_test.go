package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var recordColumns = []string{
	"id", "auditable_type", "auditable_id", "associated_type", "associated_id",
	"actor", "action", "changes", "version", "comment", "remote_address", "request_id", "created_at",
}

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db, nil), mock
}

func TestPostgresRepositoryInsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO change_records").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	stored, err := repo.Insert(context.Background(), &ChangeRecord{
		Auditable: Identity{Type: "note", ID: "n-1"},
		Action:    ActionCreate,
		Changes:   Changes{"title": "hello"},
		Version:   1,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if stored.ID == "" {
		t.Error("insert should assign an id")
	}
	if !stored.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v", stored.CreatedAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryInsertDuplicateVersion(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO change_records").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Insert(context.Background(), &ChangeRecord{
		Auditable: Identity{Type: "note", ID: "n-1"},
		Action:    ActionUpdate,
		Version:   3,
	})
	if !errors.Is(err, ErrDuplicateVersion) {
		t.Errorf("expected ErrDuplicateVersion, got %v", err)
	}
}

func TestPostgresRepositoryInsertValidation(t *testing.T) {
	repo, _ := newMockRepo(t)
	ctx := context.Background()
	identity := Identity{Type: "note", ID: "n-1"}

	if _, err := repo.Insert(ctx, &ChangeRecord{Auditable: identity, Action: "bogus", Version: 1}); !errors.Is(err, ErrInvalidRecordAction) {
		t.Errorf("invalid action: %v", err)
	}
	if _, err := repo.Insert(ctx, &ChangeRecord{Auditable: identity, Action: ActionCreate}); !errors.Is(err, ErrVersionNotSet) {
		t.Errorf("unset version: %v", err)
	}
}

func TestPostgresRepositoryLatest(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(recordColumns).AddRow(
		"rec-1", "note", "n-1", nil, nil,
		[]byte(`{"kind":"ref","type":"user","id":"u-1"}`), "update",
		[]byte(`{"title":["a","b"]}`), 2, "edited", "203.0.113.7", "req-1", now,
	)
	mock.ExpectQuery("SELECT (.+) FROM change_records").
		WithArgs("note", "n-1").
		WillReturnRows(rows)

	rec, err := repo.Latest(context.Background(), Identity{Type: "note", ID: "n-1"})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.Version != 2 || rec.Action != ActionUpdate {
		t.Errorf("got v%d %s", rec.Version, rec.Action)
	}
	if rec.Actor.ID != "u-1" {
		t.Errorf("actor = %+v", rec.Actor)
	}
	if rec.Comment != "edited" || rec.RequestID != "req-1" {
		t.Errorf("metadata: %q %q", rec.Comment, rec.RequestID)
	}
	old := rec.OldAttributes()
	if v, _ := old.Get("title"); v != "a" {
		t.Errorf("old title = %v", v)
	}
}

func TestPostgresRepositoryLatestNoRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM change_records").
		WithArgs("note", "missing").
		WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.Latest(context.Background(), Identity{Type: "note", ID: "missing"})
	if !errors.Is(err, ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}
}

func TestPostgresRepositoryByVersionNoRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM change_records").
		WithArgs("note", "n-1", 9).
		WillReturnRows(sqlmock.NewRows(recordColumns))

	_, err := repo.ByVersion(context.Background(), Identity{Type: "note", ID: "n-1"}, 9)
	if !errors.Is(err, ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}
}

func TestPostgresRepositoryForIdentity(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(recordColumns).
		AddRow("rec-1", "note", "n-1", nil, nil, []byte("null"), "create",
			[]byte(`{"title":"a"}`), 1, nil, nil, nil, now).
		AddRow("rec-2", "note", "n-1", "folder", "f-1", []byte("null"), "update",
			[]byte(`{"title":["a","b"]}`), 2, nil, nil, nil, now)
	mock.ExpectQuery("SELECT (.+) FROM change_records").
		WithArgs("note", "n-1").
		WillReturnRows(rows)

	records, err := repo.ForIdentity(context.Background(), Identity{Type: "note", ID: "n-1"}, 0)
	if err != nil {
		t.Fatalf("for identity: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if !records[0].Actor.IsAbsent() {
		t.Errorf("null actor column should decode absent, got %+v", records[0].Actor)
	}
	if records[1].Associated == nil || records[1].Associated.ID != "f-1" {
		t.Errorf("associated = %+v", records[1].Associated)
	}
}

func TestPostgresRepositoryAncestors(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows(recordColumns).
		AddRow("rec-1", "note", "n-1", nil, nil, []byte("null"), "create",
			[]byte(`{"title":"a"}`), 1, nil, nil, nil, now)
	mock.ExpectQuery("SELECT (.+) FROM change_records").
		WithArgs("note", "n-1", 1).
		WillReturnRows(rows)

	ancestors, err := repo.Ancestors(context.Background(), Identity{Type: "note", ID: "n-1"}, 1)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ancestors) != 1 || ancestors[0].Version != 1 {
		t.Errorf("ancestors = %+v", ancestors)
	}
}

func TestPostgresRepositoryMaxVersion(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("note", "n-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(4))

	max, err := repo.MaxVersion(context.Background(), Identity{Type: "note", ID: "n-1"})
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if max != 4 {
		t.Errorf("max = %d", max)
	}
}
