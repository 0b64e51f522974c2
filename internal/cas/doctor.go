package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// DoctorSummary reports the outcome of an integrity pass.
type DoctorSummary struct {
	PartialsSwept    int
	Verified         int
	CorruptRemoved   int
	IndexRebuilt     bool
	MissingRowsAdded int
}

// Doctor sweeps ".partial" leftovers from interrupted writes, verifies
// object digests (a random sample, or all when full is true), purges
// objects that fail verification or are missing, and rebuilds the index
// from the on-disk object tree if index.sqlite is missing. An index file
// that exists is not integrity-checked or rebuilt here
// (spec.md §3.1.3 / §4.1 doctor).
func (s *Store) Doctor(ctx context.Context, full bool, sampleRate float64) (DoctorSummary, error) {
	var summary DoctorSummary

	swept, err := s.sweepPartials()
	if err != nil {
		return summary, err
	}
	summary.PartialsSwept = swept

	if _, err := os.Stat(filepath.Join(s.root, "index.sqlite")); os.IsNotExist(err) {
		if err := s.rebuildIndex(ctx); err != nil {
			return summary, err
		}
		summary.IndexRebuilt = true
	}

	oids, err := s.walkObjectBlobs()
	if err != nil {
		return summary, err
	}

	indexed := make(map[string]bool)
	rows, err := s.idx.allObjects(ctx)
	if err != nil {
		return summary, err
	}
	for _, r := range rows {
		indexed[r.OID] = true
	}
	for _, oid := range oids {
		if !indexed[oid] {
			// blob with no index row: restore it by re-deriving kind from
			// the stored envelope rather than dropping it silently.
			env, readErr := s.readObjectFile(oid)
			if readErr != nil {
				continue
			}
			if err := s.idx.insertObject(ctx, oid, env.Kind, 0, s.now()); err != nil {
				return summary, err
			}
			summary.MissingRowsAdded++
		}
	}

	for _, oid := range oids {
		if !full && rand.Float64() > sampleRate {
			continue
		}
		ok, err := s.verifyDigest(oid)
		if err != nil {
			return summary, err
		}
		if !ok {
			if err := s.deleteObject(ctx, oid); err != nil {
				return summary, err
			}
			summary.CorruptRemoved++
			continue
		}
		summary.Verified++
	}
	return summary, nil
}

// sweepPartials removes any leftover ".tmp"/".partial" files from writes
// interrupted mid-rename (spec.md §8 cancellation note).
func (s *Store) sweepPartials() (int, error) {
	count := 0
	root := filepath.Join(s.root, "objects")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") || strings.HasSuffix(path, ".partial") {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			count++
		}
		return nil
	})
	if os.IsNotExist(err) {
		return count, nil
	}
	return count, err
}

// walkObjectBlobs lists every oid present on disk under objects/.
func (s *Store) walkObjectBlobs() ([]string, error) {
	var out []string
	root := filepath.Join(s.root, "objects")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") || strings.HasSuffix(path, ".partial") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		oid := strings.ReplaceAll(rel, string(filepath.Separator), "")
		out = append(out, oid)
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return out, err
}

// verifyDigest recomputes an object's SHA-256 and compares it to its oid,
// which for a content-addressed blob is the same check as re-deriving the
// canonical encoding (invariant 1).
func (s *Store) verifyDigest(oid string) (bool, error) {
	f, err := os.Open(s.objectPath(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == oid, nil
}

// readObjectFile loads the raw envelope for oid directly off disk, bypassing
// the index — used by rebuildIndex/doctor where the index can't be trusted.
func (s *Store) readObjectFile(oid string) (Envelope, error) {
	data, err := os.ReadFile(s.objectPath(oid))
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, pkgerrors.Wrapf(err, "cas: decode %s during doctor", oid)
	}
	return env, nil
}

// rebuildIndex recreates index.sqlite from scratch by walking every
// on-disk blob, used when the index file is missing or corrupt.
func (s *Store) rebuildIndex(ctx context.Context) error {
	idx, err := openIndex(filepath.Join(s.root, "index.sqlite"))
	if err != nil {
		return err
	}
	s.idx = idx

	oids, err := s.walkObjectBlobs()
	if err != nil {
		return err
	}
	for _, oid := range oids {
		env, err := s.readObjectFile(oid)
		if err != nil {
			continue // unreadable blob; left for the verify pass to purge
		}
		info, err := os.Stat(s.objectPath(oid))
		if err != nil {
			continue
		}
		if err := s.idx.insertObject(ctx, oid, env.Kind, info.Size(), s.now()); err != nil {
			return err
		}
	}
	return nil
}
