// Package pxerr defines the stable error codes, hints, and dispositions
// that every px command-scoped error carries, per the error handling design.
package pxerr

import "fmt"

// Disposition classifies how an error should surface to the caller and
// what exit code/outcome status it maps to.
type Disposition int

const (
	// User indicates status=user-error, exit 2: the operator did something
	// the command can't satisfy (missing project, drifted manifest, etc).
	User Disposition = iota
	// Operational indicates status=error: a CAS/build/IO failure not caused
	// by operator input.
	Operational
)

func (d Disposition) String() string {
	if d == User {
		return "user-error"
	}
	return "error"
}

// Code is a stable identifier in one of the three ranges from spec.md §7:
// PX101..PX702 (command-scoped), PX800..PX812 (CAS integrity),
// PX900..PX903 (sandbox).
type Code string

const (
	CodeMissingProject       Code = "PX101"
	CodeMissingManifest      Code = "PX102"
	CodeInvalidManifest      Code = "PX103"
	CodeMissingLock          Code = "PX110"
	CodeManifestDrift        Code = "PX111"
	CodeUnpinnedForbidden    Code = "PX112"
	CodeConflictingPins      Code = "PX113"
	CodeProjectLocked        Code = "PX120"
	CodeUnsupportedCapability Code = "PX130"
	CodeOffline              Code = "PX140"
	CodeNetworkRequired      Code = "PX141"
	CodeMissingRuntime       Code = "PX150"
	CodeWorkspaceConflict    Code = "PX160"
	CodeFrozenViolation      Code = "PX170"
	CodeTargetNotFound       Code = "PX701"
	CodePassthrough          Code = "PX702"

	CodeMissingObject     Code = "PX800"
	CodeDigestMismatch    Code = "PX801"
	CodeKindMismatch      Code = "PX802"
	CodeSizeMismatch      Code = "PX803"
	CodeIndexCorrupt      Code = "PX804"
	CodeIncompatibleFormat Code = "PX805"
	CodeMissingMeta       Code = "PX806"
	CodeDecodeFailure     Code = "PX807"
	CodeStoreWriteFailure Code = "PX808"

	CodeSandboxCapabilityUnknown Code = "PX900"
	CodeSandboxBuildFailed       Code = "PX901"
	CodeSandboxPushFailed        Code = "PX902"
	CodeSandboxBaseUnavailable   Code = "PX903"
)

// Error is a command-scoped error: a stable code, a short actionable hint,
// a disposition, and optional structured details surfaced in the JSON
// envelope's `details` object.
type Error struct {
	Code        Code
	Disposition Disposition
	Message     string
	Hint        string
	Reason      string
	Details     map[string]any
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a pxerr.Error.
func New(code Code, disp Disposition, reason, message, hint string) *Error {
	return &Error{Code: code, Disposition: disp, Reason: reason, Message: message, Hint: hint}
}

// Wrap attaches cause to a new pxerr.Error of the given code/disposition.
func Wrap(cause error, code Code, disp Disposition, reason, message, hint string) *Error {
	e := New(code, disp, reason, message, hint)
	e.Cause = cause
	return e
}

// WithDetails returns a copy of e with Details merged in.
func (e *Error) WithDetails(kv map[string]any) *Error {
	n := *e
	n.Details = make(map[string]any, len(e.Details)+len(kv))
	for k, v := range e.Details {
		n.Details[k] = v
	}
	for k, v := range kv {
		n.Details[k] = v
	}
	return &n
}

// AutoSyncable lists the narrow set of `reason` codes auto-sync is allowed
// to catch and repair by replaying sync, per spec.md §7.
var AutoSyncable = map[string]bool{
	"missing_lock":      true,
	"lock_drift":        true,
	"missing_artifacts": true,
	"missing_env":       true,
	"env_outdated":      true,
	"runtime_mismatch":  true,
}
