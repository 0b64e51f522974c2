package cas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	pkgerrors "github.com/pkg/errors"

	"github.com/px-dev/px/internal/effects"
)

// ErrNotFound is returned by Load/LookupKey when the oid or lookup key is
// absent from the store.
var ErrNotFound = errors.New("cas: not found")

// Store is the on-disk content-addressable object store: immutable blobs
// under <root>/objects/<oid[:2]>/<oid[2:]>, an index.sqlite tracking
// ownership refs and lookup keys, and one flock-based lock file per object.
type Store struct {
	root  string
	idx   *index
	clock effects.Clock
}

// Open opens (creating if absent) the CAS rooted at root; internal/pxctx
// passes PX_STORE_PATH, or <cache root>/store when that is unset.
func Open(root string, clock effects.Clock) (*Store, error) {
	if clock == nil {
		clock = effects.NewSystemClock()
	}
	for _, sub := range []string{"objects", "locks"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, pkgerrors.Wrapf(err, "cas: create %s", sub)
		}
	}
	idx, err := openIndex(filepath.Join(root, "index.sqlite"))
	if err != nil {
		return nil, err
	}
	return &Store{root: root, idx: idx, clock: clock}, nil
}

// Close releases the store's index connection.
func (s *Store) Close() error { return s.idx.Close() }

func (s *Store) objectPath(oid string) string {
	return filepath.Join(s.root, "objects", oid[:2], oid[2:])
}

func (s *Store) lockPath(oid string) string {
	return filepath.Join(s.root, "locks", oid+".lock")
}

// withOIDLock serializes concurrent writers racing to store the same oid
// (e.g. two `px sync` invocations resolving to the same source download),
// matching the single-writer-per-oid guarantee from spec.md §4.1.
func (s *Store) withOIDLock(oid string, fn func() error) error {
	fl := flock.New(s.lockPath(oid))
	if err := fl.Lock(); err != nil {
		return pkgerrors.Wrapf(err, "cas: lock %s", oid)
	}
	defer fl.Unlock()
	return fn()
}

// Store persists env, returning its content address. Storing an envelope
// that already exists is a no-op. Store records no owner ref — callers
// that want ownership tracking should follow with AddRef.
func (s *Store) Store(ctx context.Context, env Envelope) (oid string, err error) {
	oid, encoded, err := env.OID()
	if err != nil {
		return "", err
	}
	err = s.withOIDLock(oid, func() error {
		path := s.objectPath(oid)
		if _, statErr := os.Stat(path); statErr == nil {
			return nil // already on disk; index row may still be missing after a crash, handled below
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return pkgerrors.Wrap(err, "cas: mkdir object dir")
		}
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, encoded, 0o444); err != nil {
			return pkgerrors.Wrap(err, "cas: write temp object")
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return pkgerrors.Wrap(err, "cas: rename object into place")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := s.idx.insertObject(ctx, oid, env.Kind, int64(len(encoded)), s.now()); err != nil {
		return "", pkgerrors.Wrap(err, "cas: index object")
	}
	return oid, nil
}

func (s *Store) now() time.Time {
	return time.Unix(s.clock.Now(), 0).UTC()
}

// Load reads back the envelope stored under oid.
func (s *Store) Load(ctx context.Context, oid string) (Envelope, error) {
	ok, err := s.idx.objectExists(ctx, oid)
	if err != nil {
		return Envelope{}, err
	}
	if !ok {
		return Envelope{}, ErrNotFound
	}
	data, err := os.ReadFile(s.objectPath(oid))
	if errors.Is(err, os.ErrNotExist) {
		return Envelope{}, fmt.Errorf("cas: %w: oid %s indexed but object file missing, run `px debug cache path` then `px debug cache prune`", ErrNotFound, oid)
	}
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return Envelope{}, pkgerrors.Wrapf(err, "cas: decode object %s", oid)
	}
	if err := s.idx.touch(ctx, oid, s.now()); err != nil {
		return Envelope{}, pkgerrors.Wrap(err, "cas: touch last_accessed")
	}
	return env, nil
}

// Has reports whether oid is present in the index without reading the blob.
func (s *Store) Has(ctx context.Context, oid string) (bool, error) {
	return s.idx.objectExists(ctx, oid)
}

// Kind returns the indexed kind for oid.
func (s *Store) Kind(ctx context.Context, oid string) (Kind, error) {
	return s.idx.objectKind(ctx, oid)
}

// LookupKey resolves a cache key (e.g.
// "source:<name>|<version>|<filename>|<index_url>" or
// "pkg-build:<source_oid>|<runtime_abi>|<builder_id>|<build_options_hash>")
// to the oid it last resolved to.
func (s *Store) LookupKey(ctx context.Context, key string) (string, error) {
	return s.idx.lookupKey(ctx, key)
}

// RecordKey binds key to oid, overwriting any prior binding — used after a
// fresh resolve to make the next lookup by the same key a cache hit.
func (s *Store) RecordKey(ctx context.Context, key, oid string) error {
	return s.idx.setKey(ctx, key, oid, s.now())
}

// AddRef records that ownerKind/ownerID (e.g. "project-lock"/<lock_id>, or
// "workspace-lock"/<lock_id>) depends on oid, keeping it alive across GC.
func (s *Store) AddRef(ctx context.Context, oid, ownerKind, ownerID string) error {
	return s.idx.addRef(ctx, oid, ownerKind, ownerID, s.now())
}

// RemoveRef drops a single ownership edge.
func (s *Store) RemoveRef(ctx context.Context, oid, ownerKind, ownerID string) error {
	return s.idx.removeRef(ctx, oid, ownerKind, ownerID)
}

// RemoveOwnerRefs drops every ref owned by ownerKind/ownerID in one
// transaction — called when a lockfile is superseded or a project is
// removed from a workspace.
func (s *Store) RemoveOwnerRefs(ctx context.Context, ownerKind, ownerID string) error {
	return s.idx.removeOwnerRefs(ctx, ownerKind, ownerID)
}

// RefCount reports how many owners currently reference oid.
func (s *Store) RefCount(ctx context.Context, oid string) (int, error) {
	return s.idx.refCount(ctx, oid)
}

// OpenPayload streams the decoded (base64-decoded) payload bytes for oid
// without holding the whole envelope in memory twice.
func (s *Store) OpenPayload(ctx context.Context, oid string) (io.ReadCloser, error) {
	env, err := s.Load(ctx, oid)
	if err != nil {
		return nil, err
	}
	payload, err := env.DecodePayload()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}
