package build

import (
	"os"
	"sort"

	"github.com/px-dev/px/internal/canon"
)

// buildEnvAllowlist is the fixed set of build-influencing environment
// variables that participate in build_options_hash (spec.md §4.5).
var buildEnvAllowlist = []string{
	"CFLAGS",
	"LDFLAGS",
	"MACOSX_DEPLOYMENT_TARGET",
	"PIP_INDEX_URL",
	"PIP_EXTRA_INDEX_URL",
	"PIP_NO_BUILD_ISOLATION",
	"PIP_CONSTRAINT",
	"RUSTFLAGS",
	"CARGO_NET_OFFLINE",
	"PYTHONHASHSEED",
	"SOURCE_DATE_EPOCH",
}

// optionsTuple is the normalized shape hashed to produce build_options_hash.
type optionsTuple struct {
	InterpreterOrBuilderID string            `json:"interpreter_or_builder_id"`
	Method                 Method            `json:"method"`
	Env                    map[string]string `json:"env"`
}

// BuildOptionsHash computes SHA-256 of a canonical JSON of the interpreter
// path (or builder id for containerized builds), the build method, and a
// sorted map of the allowlisted build-influencing env vars currently set
// (spec.md §4.5 "build_options_hash").
func BuildOptionsHash(interpreterOrBuilderID string, method Method, lookupEnv func(string) (string, bool)) (string, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	env := make(map[string]string)
	keys := append([]string(nil), buildEnvAllowlist...)
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := lookupEnv(k); ok {
			env[k] = v
		}
	}
	hash, _, err := canon.JSONOID(optionsTuple{
		InterpreterOrBuilderID: interpreterOrBuilderID,
		Method:                 method,
		Env:                    env,
	})
	return hash, err
}

// CacheKey is the CAS lookup key for a pkg-build:
// (source_oid, runtime_abi, builder_id, build_options_hash).
type CacheKey struct {
	SourceOID        string
	RuntimeABI       string
	BuilderID        string
	BuildOptionsHash string
}

// LookupKey renders the key in the CAS's "kind:field|field|..." convention.
func (k CacheKey) LookupKey() string {
	return "pkg-build:" + k.SourceOID + "|" + k.RuntimeABI + "|" + k.BuilderID + "|" + k.BuildOptionsHash
}
