package api

import (
	"testing"
	"time"

	"github.com/nmfscope/server/internal/selstore"
)

func TestRetentionCleanup(t *testing.T) {
	store, err := selstore.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	old := &selstore.Saved{DatasetID: "k3", Name: "old", CreatedAt: time.Now().AddDate(0, 0, -10)}
	if err := store.Create(old); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(&selstore.Saved{DatasetID: "k3", Name: "new"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rm := NewRetentionManager(store, RetentionConfig{RetentionDays: 3, CleanupPeriod: time.Hour})
	rm.Start()
	defer rm.Stop()

	got, err := rm.Store().Get(old.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected expired selection to be removed on start")
	}
	list, err := rm.Store().ListByDataset("k3")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one remaining selection, got %v %v", list, err)
	}
}

func TestRetentionDisabled(t *testing.T) {
	store, err := selstore.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Create(&selstore.Saved{DatasetID: "k3", Name: "ancient", CreatedAt: time.Now().AddDate(-1, 0, 0)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rm := NewRetentionManager(store, RetentionConfig{})
	rm.Start()
	if n := rm.Cleanup(); n != 0 {
		t.Errorf("expected no cleanup, removed %d", n)
	}
	rm.Stop()
	rm.Stop()
}
