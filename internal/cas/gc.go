package cas

import (
	"context"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// GcSummary reports what a garbage_collect pass reclaimed.
type GcSummary struct {
	ObjectsReclaimed int
	BytesReclaimed   int64
	OrphanBlobsPurged int
	OrphanRowsPurged  int
}

// GarbageCollect reclaims objects with zero refs whose last_accessed is
// older than grace, then (if sizeLimit > 0 and the store is still over
// budget) evicts further oldest-first among the same zero-ref set, never
// violating the grace window (spec.md §4.1 garbage_collect).
//
// Liveness is judged by refs and last_accessed alone: a pkg-build whose
// source has since rotated gets no special treatment and stays live for as
// long as any owner ref names it.
func (s *Store) GarbageCollect(ctx context.Context, grace time.Duration, sizeLimit int64) (GcSummary, error) {
	var summary GcSummary

	orphanBlobs, orphanRows, err := s.reconcileOrphans(ctx)
	if err != nil {
		return summary, err
	}
	summary.OrphanBlobsPurged = orphanBlobs
	summary.OrphanRowsPurged = orphanRows

	cutoff := s.now().Add(-grace)
	candidates, err := s.idx.gcCandidates(ctx, cutoff)
	if err != nil {
		return summary, pkgerrors.Wrap(err, "cas: list gc candidates")
	}

	for _, c := range candidates {
		if err := s.deleteObject(ctx, c.OID); err != nil {
			return summary, err
		}
		summary.ObjectsReclaimed++
		summary.BytesReclaimed += c.SizeBytes
	}

	if sizeLimit <= 0 {
		return summary, nil
	}
	total, err := s.idx.totalSize(ctx)
	if err != nil {
		return summary, pkgerrors.Wrap(err, "cas: total size")
	}
	if total <= sizeLimit {
		return summary, nil
	}

	// Still over budget: evict further oldest-first among the zero-ref set,
	// but only objects that are already past the grace window stay
	// eligible — size pressure never overrides the grace guarantee.
	remaining, err := s.idx.gcCandidates(ctx, cutoff)
	if err != nil {
		return summary, err
	}
	for _, c := range remaining {
		if total <= sizeLimit {
			break
		}
		if err := s.deleteObject(ctx, c.OID); err != nil {
			return summary, err
		}
		summary.ObjectsReclaimed++
		summary.BytesReclaimed += c.SizeBytes
		total -= c.SizeBytes
	}
	return summary, nil
}

// deleteObject removes both the index row and the on-disk blob, holding
// the per-oid lock so a concurrent Store of the same oid can't race it.
func (s *Store) deleteObject(ctx context.Context, oid string) error {
	return s.withOIDLock(oid, func() error {
		if err := s.idx.deleteObject(ctx, oid); err != nil {
			return pkgerrors.Wrapf(err, "cas: delete index row %s", oid)
		}
		if err := os.Remove(s.objectPath(oid)); err != nil && !os.IsNotExist(err) {
			return pkgerrors.Wrapf(err, "cas: remove blob %s", oid)
		}
		return nil
	})
}

// reconcileOrphans removes on-disk blobs with no index row and index rows
// whose blob is missing (spec.md §4.1 garbage_collect step e).
func (s *Store) reconcileOrphans(ctx context.Context) (blobsPurged, rowsPurged int, err error) {
	indexed, err := s.idx.allObjects(ctx)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(err, "cas: list indexed objects")
	}
	indexedSet := make(map[string]bool, len(indexed))
	for _, row := range indexed {
		indexedSet[row.OID] = true
		if _, statErr := os.Stat(s.objectPath(row.OID)); os.IsNotExist(statErr) {
			if err := s.idx.deleteObject(ctx, row.OID); err != nil {
				return blobsPurged, rowsPurged, pkgerrors.Wrapf(err, "cas: purge orphan row %s", row.OID)
			}
			rowsPurged++
		}
	}

	onDisk, err := s.walkObjectBlobs()
	if err != nil {
		return blobsPurged, rowsPurged, err
	}
	for _, oid := range onDisk {
		if indexedSet[oid] {
			continue
		}
		if err := os.Remove(s.objectPath(oid)); err != nil && !os.IsNotExist(err) {
			return blobsPurged, rowsPurged, pkgerrors.Wrapf(err, "cas: purge orphan blob %s", oid)
		}
		blobsPurged++
	}
	return blobsPurged, rowsPurged, nil
}
