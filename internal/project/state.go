// Package project implements the project state machine: deriving the
// 5-valued state from the manifest/lock/env-record triple, gating mutating
// commands behind an exclusive project lock, and the sync/add/remove/update
// operations that move a project toward Consistent (spec.md §3.3/§4.6).
package project

import "github.com/px-dev/px/internal/lockfile"

// State is the project's canonical 5-valued state, derived from three
// booleans per spec.md §3.3's truth table.
type State int

const (
	Uninitialized State = iota
	NeedsLock
	NeedsEnv
	InitializedEmpty
	Consistent
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case NeedsLock:
		return "needs_lock"
	case NeedsEnv:
		return "needs_env"
	case InitializedEmpty:
		return "initialized_empty"
	case Consistent:
		return "consistent"
	default:
		return "unknown"
	}
}

// Snapshot is everything read from disk needed to compute State, without
// yet deciding what (if anything) needs to change.
type Snapshot struct {
	Manifest            *lockfile.Manifest
	ManifestFingerprint string
	Lock                *lockfile.Lock
	StateFile           *StateFile
}

// EnvCheck carries the facts about the live environment ComputeState needs
// beyond what's recorded in StateFile, gathered by the caller (Project) so
// this package stays free of filesystem/CAS access.
type EnvCheck struct {
	DetectedPythonVersion string
	SitePackagesExists    bool
	ProfileObjectsPresent bool
}

// ComputeState derives the canonical state per spec.md §3.3's truth table.
func ComputeState(snap Snapshot, check EnvCheck) State {
	if snap.Manifest == nil {
		return Uninitialized
	}
	if snap.Lock == nil || snap.Lock.ManifestFingerprint != snap.ManifestFingerprint {
		return NeedsLock
	}
	if !envClean(snap, check) {
		return NeedsEnv
	}
	if len(snap.Lock.Dependencies) == 0 {
		return InitializedEmpty
	}
	return Consistent
}

// envClean is true iff the persisted state file records an environment
// whose lock_id matches the current lock, whose runtime metadata matches
// the detected interpreter, whose site-packages path exists, and whose
// profile's CAS objects are all present (spec.md §3.3).
func envClean(snap Snapshot, check EnvCheck) bool {
	if snap.StateFile == nil || snap.StateFile.CurrentEnv == nil || snap.Lock == nil {
		return false
	}
	ce := snap.StateFile.CurrentEnv
	if ce.LockID != snap.Lock.LockID {
		return false
	}
	if check.DetectedPythonVersion != "" && ce.Python.Version != check.DetectedPythonVersion {
		return false
	}
	if !check.SitePackagesExists || !check.ProfileObjectsPresent {
		return false
	}
	return true
}

// AutoSyncReason names the narrow set of reasons run/test/fmt auto-sync
// catches and repairs by replaying sync (spec.md §4.6, §7; the values are
// the pxerr.AutoSyncable key set).
type AutoSyncReason string

const (
	ReasonMissingLock      AutoSyncReason = "missing_lock"
	ReasonLockDrift        AutoSyncReason = "lock_drift"
	ReasonMissingArtifacts AutoSyncReason = "missing_artifacts"
	ReasonMissingEnv       AutoSyncReason = "missing_env"
	ReasonEnvOutdated      AutoSyncReason = "env_outdated"
	ReasonRuntimeMismatch  AutoSyncReason = "runtime_mismatch"
)

// ReasonFor explains, in auto-sync terms, why state isn't Consistent yet.
// Returns "" for Consistent/InitializedEmpty (nothing to do).
func ReasonFor(state State, snap Snapshot, check EnvCheck) AutoSyncReason {
	switch state {
	case NeedsLock:
		if snap.Lock == nil {
			return ReasonMissingLock
		}
		return ReasonLockDrift
	case NeedsEnv:
		if snap.StateFile == nil || snap.StateFile.CurrentEnv == nil {
			return ReasonMissingEnv
		}
		if check.DetectedPythonVersion != "" && snap.StateFile.CurrentEnv.Python.Version != check.DetectedPythonVersion {
			return ReasonRuntimeMismatch
		}
		if !check.ProfileObjectsPresent {
			return ReasonMissingArtifacts
		}
		return ReasonEnvOutdated
	default:
		return ""
	}
}
