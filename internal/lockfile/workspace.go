package lockfile

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/atomicfile"
	"github.com/px-dev/px/internal/canon"
)

// WorkspaceMember is one row of a workspace lock's members table.
type WorkspaceMember struct {
	Path        string     `toml:"path" json:"path"`
	Fingerprint string     `toml:"fingerprint" json:"fingerprint"`
	Resolved    []Resolved `toml:"resolved" json:"resolved"`
}

// WorkspaceLock is px.workspace.lock: a root lock plus a [workspace] table
// of members (spec.md §3.2.3 / §4.7).
type WorkspaceLock struct {
	Lock
	Workspace WorkspaceSection `toml:"workspace" json:"workspace"`
}

type WorkspaceSection struct {
	Members []WorkspaceMember `toml:"members" json:"members"`
}

// ownerIDTuple is hashed to produce the workspace's owner_id, depending on
// each member's fingerprint in path order (spec.md §4.7).
type ownerIDTuple struct {
	Members []WorkspaceMember `json:"members"`
}

// OwnerID derives the composite owner_id identifying this workspace lock as
// a single CAS ref owner.
func (w WorkspaceLock) OwnerID() (string, error) {
	sorted := append([]WorkspaceMember(nil), w.Workspace.Members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	id, _, err := canon.JSONOID(ownerIDTuple{Members: sorted})
	return id, err
}

// WriteWorkspaceLock serializes and atomically writes a workspace lock.
func WriteWorkspaceLock(path string, w WorkspaceLock) error {
	data, err := Marshal(w)
	if err != nil {
		return errors.Wrap(err, "lockfile: marshal workspace lock")
	}
	return atomicfile.Write(path, data, 0o644)
}

// ReadWorkspaceLock reads px.workspace.lock.
func ReadWorkspaceLock(path string) (WorkspaceLock, error) {
	var w WorkspaceLock
	data, err := os.ReadFile(path)
	if err != nil {
		return w, err
	}
	if err := Unmarshal(data, &w); err != nil {
		return w, errors.Wrapf(err, "lockfile: parse %s", path)
	}
	return w, nil
}
