package cas_test

import (
	"context"
	"testing"
	"time"

	"github.com/px-dev/px/internal/cas"
)

func TestGarbageCollectRespectsGrace(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	env, err := cas.NewMetaObject([]byte("unreferenced but fresh"))
	if err != nil {
		t.Fatal(err)
	}
	oid, err := s.Store(ctx, env)
	if err != nil {
		t.Fatal(err)
	}

	summary, err := s.GarbageCollect(ctx, time.Hour, 0)
	if err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
	if summary.ObjectsReclaimed != 0 {
		t.Fatalf("expected nothing reclaimed within grace window, got %d", summary.ObjectsReclaimed)
	}
	if _, err := s.Load(ctx, oid); err != nil {
		t.Fatalf("object should still be loadable: %v", err)
	}

	clock.t += int64(2 * time.Hour / time.Second)
	summary, err = s.GarbageCollect(ctx, time.Hour, 0)
	if err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
	if summary.ObjectsReclaimed != 1 {
		t.Fatalf("expected 1 object reclaimed past grace window, got %d", summary.ObjectsReclaimed)
	}
	if _, err := s.Load(ctx, oid); err == nil {
		t.Fatal("object should have been reclaimed")
	}
}

func TestGarbageCollectSkipsReferencedObjects(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	env, err := cas.NewMetaObject([]byte("referenced"))
	if err != nil {
		t.Fatal(err)
	}
	oid, err := s.Store(ctx, env)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddRef(ctx, oid, "project-lock", "lock-a"); err != nil {
		t.Fatal(err)
	}

	clock.t += int64(24 * time.Hour / time.Second)
	if _, err := s.GarbageCollect(ctx, time.Hour, 0); err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
	if _, err := s.Load(ctx, oid); err != nil {
		t.Fatalf("referenced object should survive GC: %v", err)
	}
}

func TestDoctorSweepsAndVerifies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	env, err := cas.NewMetaObject([]byte("healthy object"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Store(ctx, env); err != nil {
		t.Fatal(err)
	}

	summary, err := s.Doctor(ctx, true, 1.0)
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if summary.Verified != 1 {
		t.Fatalf("expected 1 verified object, got %d", summary.Verified)
	}
	if summary.CorruptRemoved != 0 {
		t.Fatalf("expected no corrupt objects, got %d", summary.CorruptRemoved)
	}
}
