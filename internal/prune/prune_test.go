package prune

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/hybridmind/internal/bus"
	"github.com/matheus3301/hybridmind/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *store.DB, old, fresh int64) {
	t.Helper()
	if err := db.CreateSession(&store.Session{ID: "off", UserID: "u1", OfflineOnly: true}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateSession(&store.Session{ID: "on", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	msgs := []*store.Message{
		{ID: "expired", SessionID: "off", Role: store.RoleUser, Content: "old", CreatedAt: old},
		{ID: "kept", SessionID: "off", Role: store.RoleModel, Content: "new", CreatedAt: fresh},
		{ID: "synced", SessionID: "on", Role: store.RoleUser, Content: "old but syncable", CreatedAt: old},
	}
	for _, m := range msgs {
		if err := db.InsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunOnce(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()
	window := 90 * 24 * time.Hour
	seed(t, db, now-window.Milliseconds()-1000, now)

	b := bus.New()
	events, unsub := b.Subscribe("prune.", 4)
	defer unsub()

	p := New(db, b, nil, time.Hour, window)
	p.RunOnce()

	select {
	case evt := <-events:
		if evt.Kind != "prune.completed" {
			t.Errorf("event = %s, want prune.completed", evt.Kind)
		}
		if n, ok := evt.Payload.(int64); !ok || n != 1 {
			t.Errorf("payload = %v, want count 1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no prune.completed event")
	}

	off, _ := db.ListMessages("off")
	if len(off) != 1 || off[0].ID != "kept" {
		t.Errorf("offline session kept %v, want only the fresh message", off)
	}
	on, _ := db.ListMessages("on")
	if len(on) != 1 {
		t.Errorf("syncable session lost messages: %d left, want 1", len(on))
	}
}

func TestStartRunsImmediately(t *testing.T) {
	db := testDB(t)
	now := time.Now().UnixMilli()
	window := time.Hour
	seed(t, db, now-2*window.Milliseconds(), now)

	b := bus.New()
	events, unsub := b.Subscribe("prune.", 4)
	defer unsub()

	p := New(db, b, nil, time.Hour, window)
	p.Start(context.Background())
	defer p.Stop()

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no prune pass after Start")
	}
}

func TestStopWaitsForPass(t *testing.T) {
	db := testDB(t)
	p := New(db, nil, nil, time.Hour, time.Hour)
	p.Start(context.Background())
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
