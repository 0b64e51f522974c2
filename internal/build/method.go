// Package build implements the sdist→wheel pipeline: a deterministic cache
// key, a host pip-wheel build path, a containerized-builder fallback, and
// the canonical archiving + native-shared-library sweep that turns a built
// wheel into a pkg-build CAS object (spec.md §4.5).
package build

import "fmt"

// Method is one of the closed set of ways a wheel gets built, grounded on
// the teacher's builders.Known enum-of-short-names pattern.
type Method string

const (
	MethodPipWheel     Method = "pip-wheel"
	MethodPythonBuild  Method = "python-build"
	MethodBuilderWheel Method = "builder-wheel"
)

// Default is the build method used when nothing overrides it: the host
// interpreter's pip wheel.
const Default = MethodPipWheel

// All enumerates every known build method, mirroring builders.All().
func All() []Method { return []Method{MethodPipWheel, MethodPythonBuild, MethodBuilderWheel} }

func (m Method) Valid() bool {
	for _, known := range All() {
		if m == known {
			return true
		}
	}
	return false
}

// BuilderVersion is bumped whenever the build procedure itself changes in a
// way that invalidates prior build caches (spec.md §4.5 "builder_id").
const BuilderVersion = 1

// BuilderID derives "{runtime_abi}-v{BUILDER_VERSION}".
func BuilderID(runtimeABI string) string {
	return fmt.Sprintf("%s-v%d", runtimeABI, BuilderVersion)
}
