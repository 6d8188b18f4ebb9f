package note

import (
	"context"
	"errors"
	"testing"

	"github.com/ledgerline/recordtrail/internal/attribution"
	"github.com/ledgerline/recordtrail/internal/audit"
	"github.com/ledgerline/recordtrail/internal/registry"
)

func newService(t *testing.T) (*Service, *InMemoryStore, *audit.InMemoryRepository) {
	t.Helper()
	repo := audit.NewInMemoryRepository()
	store := NewInMemoryStore()
	recorder, err := audit.NewRecorder(repo, attribution.NewResolver(nil), nil, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	return NewService(store, recorder), store, repo
}

func TestServiceCreateRecordsSnapshot(t *testing.T) {
	svc, store, repo := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, &Note{Title: "hello", Status: "draft"}, "initial")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.ID == "" {
		t.Error("create should assign an id")
	}
	if store.Count() != 1 {
		t.Errorf("store count = %d", store.Count())
	}

	rec, err := repo.Latest(ctx, audit.Identity{Type: TypeTag, ID: n.ID})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.Action != audit.ActionCreate || rec.Version != 1 {
		t.Errorf("record = v%d %s", rec.Version, rec.Action)
	}
	if rec.Comment != "initial" {
		t.Errorf("comment = %q", rec.Comment)
	}
	if rec.Changes["title"] != "hello" {
		t.Errorf("changes = %v", rec.Changes)
	}
}

func TestServiceUpdateRecordsDiff(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, &Note{Title: "before", Status: "draft"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	n.Title = "after"
	if _, err := svc.Update(ctx, n, "retitled"); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec, err := repo.Latest(ctx, audit.Identity{Type: TypeTag, ID: n.ID})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.Action != audit.ActionUpdate || rec.Version != 2 {
		t.Errorf("record = v%d %s", rec.Version, rec.Action)
	}
	old := rec.OldAttributes()
	if v, _ := old.Get("title"); v != "before" {
		t.Errorf("old title = %v", v)
	}
	neu := rec.NewAttributes()
	if v, _ := neu.Get("title"); v != "after" {
		t.Errorf("new title = %v", v)
	}
	if _, present := rec.Changes["status"]; present {
		t.Error("unchanged field should not appear in the diff")
	}
}

func TestServiceUpdateWithoutChangesWritesNoRecord(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, &Note{Title: "same"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Update(ctx, n, ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	records, _ := repo.ForIdentity(ctx, audit.Identity{Type: TypeTag, ID: n.ID}, 0)
	if len(records) != 1 {
		t.Errorf("got %d records, want only the create", len(records))
	}
}

func TestServiceDeleteRecordsPreDestroySnapshot(t *testing.T) {
	svc, store, repo := newService(t)
	ctx := context.Background()

	n, err := svc.Create(ctx, &Note{Title: "doomed", Status: "live"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, n.ID, "cleanup"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("store count = %d", store.Count())
	}

	rec, err := repo.Latest(ctx, audit.Identity{Type: TypeTag, ID: n.ID})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.Action != audit.ActionDestroy || rec.Version != 2 {
		t.Errorf("record = v%d %s", rec.Version, rec.Action)
	}
	if rec.Changes["title"] != "doomed" || rec.Changes["status"] != "live" {
		t.Errorf("destroy changes = %v", rec.Changes)
	}
}

func TestServiceDeleteMissingNote(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.Delete(context.Background(), "ghost", "")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceAttributesActorFromContext(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := attribution.With(context.Background(), attribution.Ref("user", "u-7"))

	n, err := svc.Create(ctx, &Note{Title: "attributed"}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, _ := repo.Latest(ctx, audit.Identity{Type: TypeTag, ID: n.ID})
	if rec.Actor.ID != "u-7" {
		t.Errorf("actor = %+v", rec.Actor)
	}
}
