// Package cas implements the content-addressable store: immutable object
// blobs under objects/<first-2>/<rest>, a SQLite index tracking ownership
// and lookup keys, per-object advisory locks, and garbage collection/doctor
// passes. See spec.md §3.1/§4.1.
package cas

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/px-dev/px/internal/canon"
)

// Kind is one of the six closed CAS object kinds (spec.md §3.1.1), modeled
// as a sum type via a string enum plus exhaustive payload structs rather
// than a class hierarchy, per the design note in spec.md §9.
type Kind string

const (
	KindSource       Kind = "source"
	KindPkgBuild     Kind = "pkg-build"
	KindRuntime      Kind = "runtime"
	KindProfile      Kind = "profile"
	KindRepoSnapshot Kind = "repo-snapshot"
	KindMeta         Kind = "meta"
)

// Envelope is the top-level shape of every CAS object: canonical encoding
// of this struct (with Payload/PayloadKind omitted for "profile", whose
// contents live entirely in Header) is what's hashed to produce the oid.
type Envelope struct {
	Header      map[string]any `json:"header"`
	Kind        Kind           `json:"kind"`
	Payload     string         `json:"payload,omitempty"` // base64, kind-dependent
	PayloadKind string         `json:"payload_kind,omitempty"`
}

// SourceHeader identifies a downloaded sdist/wheel artifact.
type SourceHeader struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Filename string `json:"filename"`
	IndexURL string `json:"index_url"`
	SHA256   string `json:"sha256"`
}

// PkgBuildHeader identifies one built distribution's unpacked site tree.
type PkgBuildHeader struct {
	SourceOID        string `json:"source_oid"`
	RuntimeABI       string `json:"runtime_abi"`
	BuilderID        string `json:"builder_id"`
	BuildOptionsHash string `json:"build_options_hash"`
}

// RuntimeHeader identifies a Python runtime build.
type RuntimeHeader struct {
	Version        string `json:"version"`
	ABI            string `json:"abi"`
	Platform       string `json:"platform"`
	BuildConfigHash string `json:"build_config_hash"`
	ExePath        string `json:"exe_path"`
}

// ProfileHeader enumerates a runtime and an ordered package set; its oid is
// the identity of a materializable environment. It carries no payload.
type ProfileHeader struct {
	RuntimeOID    string            `json:"runtime_oid"`
	Packages      []string          `json:"packages"` // sorted lowercase names, deduped
	SysPathOrder  []string          `json:"sys_path_order"`
	EnvVars       map[string]string `json:"env_vars"`
}

// RepoSnapshotHeader identifies a commit-pinned repo subtree.
type RepoSnapshotHeader struct {
	Locator string `json:"locator"`
	Commit  string `json:"commit"`
	Subdir  string `json:"subdir,omitempty"`
}

// headerToMap round-trips a typed header through canon.JSON's normalizer so
// it ends up as the same map[string]any shape the Envelope's Header field
// expects, keeping one canonicalization path for the whole envelope.
func headerToMap(h any) (map[string]any, error) {
	enc, err := canon.JSON(h)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(enc, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSourceObject builds the envelope for a downloaded artifact.
func NewSourceObject(h SourceHeader, payload []byte) (Envelope, error) {
	hm, err := headerToMap(h)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: hm, Kind: KindSource, Payload: base64.StdEncoding.EncodeToString(payload), PayloadKind: "bytes"}, nil
}

// NewPkgBuildObject builds the envelope for a built distribution's site tree.
func NewPkgBuildObject(h PkgBuildHeader, tarGz []byte) (Envelope, error) {
	hm, err := headerToMap(h)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: hm, Kind: KindPkgBuild, Payload: base64.StdEncoding.EncodeToString(tarGz), PayloadKind: "tar.gz"}, nil
}

// NewRuntimeObject builds the envelope for a Python runtime tree.
func NewRuntimeObject(h RuntimeHeader, tarGz []byte) (Envelope, error) {
	hm, err := headerToMap(h)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: hm, Kind: KindRuntime, Payload: base64.StdEncoding.EncodeToString(tarGz), PayloadKind: "tar.gz"}, nil
}

// NewProfileObject builds the envelope for a profile. Packages must already
// be sorted/deduped by the caller (invariant enforced in validateProfile).
func NewProfileObject(h ProfileHeader) (Envelope, error) {
	if err := validateProfile(h); err != nil {
		return Envelope{}, err
	}
	hm, err := headerToMap(h)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: hm, Kind: KindProfile}, nil
}

func validateProfile(h ProfileHeader) error {
	seen := make(map[string]bool, len(h.Packages))
	for i, p := range h.Packages {
		if i > 0 && h.Packages[i-1] > p {
			return fmt.Errorf("cas: profile.packages not sorted: %q before %q", h.Packages[i-1], p)
		}
		if seen[p] {
			return fmt.Errorf("cas: profile.packages duplicate: %q", p)
		}
		seen[p] = true
	}
	return nil
}

// NewRepoSnapshotObject builds the envelope for a commit-pinned repo subtree.
func NewRepoSnapshotObject(h RepoSnapshotHeader, tarGz []byte) (Envelope, error) {
	hm, err := headerToMap(h)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Header: hm, Kind: KindRepoSnapshot, Payload: base64.StdEncoding.EncodeToString(tarGz), PayloadKind: "tar.gz"}, nil
}

// NewMetaObject builds the envelope for a raw internal blob.
func NewMetaObject(raw []byte) (Envelope, error) {
	return Envelope{Header: map[string]any{}, Kind: KindMeta, Payload: base64.StdEncoding.EncodeToString(raw), PayloadKind: "bytes"}, nil
}

// OID computes the envelope's content address: the lowercase hex SHA-256
// of its canonical encoding (invariant 1, spec.md §8).
func (e Envelope) OID() (oid string, encoded []byte, err error) {
	return canon.JSONOID(e)
}

// DecodePayload base64-decodes the envelope's payload bytes.
func (e Envelope) DecodePayload() ([]byte, error) {
	if e.Payload == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(e.Payload)
}
