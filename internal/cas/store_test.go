package cas_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/px-dev/px/internal/cas"
)

type fakeClock struct{ t int64 }

func (f *fakeClock) Now() int64 { return f.t }

func newTestStore(t *testing.T) (*cas.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: 1_700_000_000}
	s, err := cas.Open(t.TempDir(), clock)
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	env, err := cas.NewSourceObject(cas.SourceHeader{
		Name:     "requests",
		Version:  "2.31.0",
		Filename: "requests-2.31.0.tar.gz",
		IndexURL: "https://pypi.org/simple/",
		SHA256:   "abc123",
	}, []byte("fake sdist bytes"))
	if err != nil {
		t.Fatalf("NewSourceObject: %v", err)
	}

	oid, err := s.Store(ctx, env)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if len(oid) != 64 {
		t.Fatalf("oid should be hex sha256 (64 chars), got %q", oid)
	}

	got, err := s.Load(ctx, oid)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Kind != cas.KindSource {
		t.Fatalf("kind = %q, want source", got.Kind)
	}
	gotPayload, err := got.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if string(gotPayload) != "fake sdist bytes" {
		t.Fatalf("payload = %q", gotPayload)
	}
}

func TestStoreIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	h := cas.SourceHeader{Name: "flask", Version: "3.0.0", Filename: "flask-3.0.0.tar.gz", IndexURL: "https://pypi.org/simple/", SHA256: "x"}
	env1, err := cas.NewSourceObject(h, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	env2, err := cas.NewSourceObject(h, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	oid1, err := s.Store(ctx, env1)
	if err != nil {
		t.Fatal(err)
	}
	oid2, err := s.Store(ctx, env2)
	if err != nil {
		t.Fatal(err)
	}
	if oid1 != oid2 {
		t.Fatalf("identical envelopes produced different oids: %s vs %s", oid1, oid2)
	}
}

func TestLoadNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Load(ctx, "0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Fatal("expected error for missing oid")
	}
}

func TestLookupKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	env, err := cas.NewMetaObject([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	oid, err := s.Store(ctx, env)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordKey(ctx, "source:flask:3.0.0:https://pypi.org/simple/", oid); err != nil {
		t.Fatal(err)
	}
	got, err := s.LookupKey(ctx, "source:flask:3.0.0:https://pypi.org/simple/")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(oid, got); diff != "" {
		t.Fatalf("lookup key mismatch (-want +got):\n%s", diff)
	}
}

func TestRefCounting(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

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
	if err := s.AddRef(ctx, oid, "project-lock", "lock-b"); err != nil {
		t.Fatal(err)
	}
	n, err := s.RefCount(ctx, oid)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("ref count = %d, want 2", n)
	}
	if err := s.RemoveOwnerRefs(ctx, "project-lock", "lock-a"); err != nil {
		t.Fatal(err)
	}
	n, err = s.RefCount(ctx, oid)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ref count after removal = %d, want 1", n)
	}
}

func TestProfileObjectRejectsUnsortedPackages(t *testing.T) {
	_, err := cas.NewProfileObject(cas.ProfileHeader{
		RuntimeOID: "deadbeef",
		Packages:   []string{"zope", "attrs"},
	})
	if err == nil {
		t.Fatal("expected error for unsorted packages")
	}
}

func TestProfileObjectRejectsDuplicatePackages(t *testing.T) {
	_, err := cas.NewProfileObject(cas.ProfileHeader{
		RuntimeOID: "deadbeef",
		Packages:   []string{"attrs", "attrs"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate packages")
	}
}
