package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func mustInsert(t *testing.T, repo Repository, rec *ChangeRecord) *ChangeRecord {
	t.Helper()
	stored, err := repo.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return stored
}

func TestInMemoryRepositoryLifecycle(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	identity := Identity{Type: "note", ID: "n-1"}

	// A create, two updates, and a destroy stamp versions 1 through 4.
	seq := NewSequencer(repo)
	actions := []Action{ActionCreate, ActionUpdate, ActionUpdate, ActionDestroy}
	for i, action := range actions {
		version, err := seq.Next(ctx, identity, action)
		if err != nil {
			t.Fatalf("next version: %v", err)
		}
		if version != i+1 {
			t.Errorf("action %d: version = %d, want %d", i, version, i+1)
		}
		mustInsert(t, repo, &ChangeRecord{
			Auditable: identity,
			Action:    action,
			Changes:   Changes{"step": i},
			Version:   version,
		})
	}

	records, err := repo.ForIdentity(ctx, identity, 0)
	if err != nil {
		t.Fatalf("for identity: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	for i, rec := range records {
		if rec.Version != i+1 {
			t.Errorf("record %d has version %d", i, rec.Version)
		}
		if rec.ID == "" {
			t.Error("insert should assign an id")
		}
		if rec.CreatedAt.IsZero() {
			t.Error("insert should assign created_at")
		}
	}

	latest, err := repo.Latest(ctx, identity)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 4 || latest.Action != ActionDestroy {
		t.Errorf("latest = v%d %s", latest.Version, latest.Action)
	}

	max, err := repo.MaxVersion(ctx, identity)
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if max != 4 {
		t.Errorf("max version = %d", max)
	}
}

func TestInMemoryRepositoryForIdentityLimit(t *testing.T) {
	repo := NewInMemoryRepository()
	identity := Identity{Type: "note", ID: "n-1"}
	for v := 1; v <= 5; v++ {
		action := ActionUpdate
		if v == 1 {
			action = ActionCreate
		}
		mustInsert(t, repo, &ChangeRecord{Auditable: identity, Action: action, Version: v})
	}

	records, err := repo.ForIdentity(context.Background(), identity, 2)
	if err != nil {
		t.Fatalf("for identity: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Version != 1 || records[1].Version != 2 {
		t.Errorf("limit should keep the earliest versions, got %d %d", records[0].Version, records[1].Version)
	}
}

func TestInMemoryRepositoryAncestors(t *testing.T) {
	repo := NewInMemoryRepository()
	identity := Identity{Type: "note", ID: "n-1"}
	for v := 1; v <= 5; v++ {
		action := ActionUpdate
		if v == 1 {
			action = ActionCreate
		}
		mustInsert(t, repo, &ChangeRecord{Auditable: identity, Action: action, Version: v})
	}

	ancestors, err := repo.Ancestors(context.Background(), identity, 3)
	if err != nil {
		t.Fatalf("ancestors: %v", err)
	}
	if len(ancestors) != 3 {
		t.Fatalf("got %d ancestors, want 3", len(ancestors))
	}
	if ancestors[2].Version != 3 {
		t.Errorf("last ancestor version = %d", ancestors[2].Version)
	}
}

func TestInMemoryRepositoryByVersion(t *testing.T) {
	repo := NewInMemoryRepository()
	identity := Identity{Type: "note", ID: "n-1"}
	mustInsert(t, repo, &ChangeRecord{Auditable: identity, Action: ActionCreate, Version: 1})
	mustInsert(t, repo, &ChangeRecord{Auditable: identity, Action: ActionUpdate, Version: 2})

	rec, err := repo.ByVersion(context.Background(), identity, 2)
	if err != nil {
		t.Fatalf("by version: %v", err)
	}
	if rec.Action != ActionUpdate {
		t.Errorf("got action %s", rec.Action)
	}

	if _, err := repo.ByVersion(context.Background(), identity, 9); !errors.Is(err, ErrNoRecords) {
		t.Errorf("missing version should return ErrNoRecords, got %v", err)
	}
}

func TestInMemoryRepositoryEmptyIdentity(t *testing.T) {
	repo := NewInMemoryRepository()
	identity := Identity{Type: "note", ID: "missing"}
	ctx := context.Background()

	if _, err := repo.Latest(ctx, identity); !errors.Is(err, ErrNoRecords) {
		t.Errorf("latest on empty identity: %v", err)
	}
	max, err := repo.MaxVersion(ctx, identity)
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if max != 0 {
		t.Errorf("max version on empty identity = %d", max)
	}
	records, err := repo.ForIdentity(ctx, identity, 0)
	if err != nil {
		t.Fatalf("for identity: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records", len(records))
	}
}

func TestInMemoryRepositoryRejectsBadRecords(t *testing.T) {
	repo := NewInMemoryRepository()
	identity := Identity{Type: "note", ID: "n-1"}
	ctx := context.Background()

	_, err := repo.Insert(ctx, &ChangeRecord{Auditable: identity, Action: "bogus", Version: 1})
	if !errors.Is(err, ErrInvalidRecordAction) {
		t.Errorf("invalid action: %v", err)
	}

	_, err = repo.Insert(ctx, &ChangeRecord{Auditable: identity, Action: ActionCreate})
	if !errors.Is(err, ErrVersionNotSet) {
		t.Errorf("unset version: %v", err)
	}
}

func TestInMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository()
	identity := Identity{Type: "note", ID: "n-1"}
	mustInsert(t, repo, &ChangeRecord{Auditable: identity, Action: ActionCreate, Version: 1, Comment: "original"})

	first, _ := repo.Latest(context.Background(), identity)
	first.Comment = "mutated"

	second, _ := repo.Latest(context.Background(), identity)
	if second.Comment != "original" {
		t.Error("mutating a returned record should not affect stored state")
	}
}

func TestInMemoryRepositoryInsertDuplicateVersion(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	identity := Identity{Type: "note", ID: "n-1"}

	mustInsert(t, repo, &ChangeRecord{Auditable: identity, Action: ActionCreate, Version: 1})

	// A sequencer-race loser presents the same version; the repository
	// rejects it just as the unique index does.
	_, err := repo.Insert(ctx, &ChangeRecord{Auditable: identity, Action: ActionUpdate, Version: 1})
	if !errors.Is(err, ErrDuplicateVersion) {
		t.Errorf("expected ErrDuplicateVersion, got %v", err)
	}

	// The loser left no trace and the winner is untouched.
	recs, err := repo.ForIdentity(ctx, identity, 0)
	if err != nil {
		t.Fatalf("for identity: %v", err)
	}
	if len(recs) != 1 || recs[0].Action != ActionCreate {
		t.Errorf("records after rejected insert = %+v", recs)
	}
}

func TestInMemoryRepositoryConcurrentInserts(t *testing.T) {
	repo := NewInMemoryRepository()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			identity := Identity{Type: "note", ID: fmt.Sprintf("n-%d", n)}
			mustInsert(t, repo, &ChangeRecord{Auditable: identity, Action: ActionCreate, Version: 1})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		identity := Identity{Type: "note", ID: fmt.Sprintf("n-%d", i)}
		if _, err := repo.Latest(context.Background(), identity); err != nil {
			t.Errorf("identity %s: %v", identity, err)
		}
	}
}
