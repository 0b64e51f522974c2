package resolve

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/px-dev/px/internal/effects"
)

// MarkerEnv is the PEP 508 marker environment probed from the target
// interpreter, grounded on the field set original_source's
// current_marker_environment()/detect_marker_environment_with() compute.
type MarkerEnv struct {
	ImplementationName           string `json:"implementation_name"`
	ImplementationVersion        string `json:"implementation_version"`
	OSName                       string `json:"os_name"`
	PlatformMachine              string `json:"platform_machine"`
	PlatformPythonImplementation string `json:"platform_python_implementation"`
	PlatformRelease              string `json:"platform_release"`
	PlatformSystem               string `json:"platform_system"`
	PlatformVersion              string `json:"platform_version"`
	PythonFullVersion            string `json:"python_full_version"`
	PythonVersion                string `json:"python_version"`
	SysPlatform                  string `json:"sys_platform"`
}

const markerEnvScript = `import json, os, platform, sys
impl_name = getattr(sys.implementation, "name", "cpython")
python_full = platform.python_version()
python_short = "%d.%d" % (sys.version_info[0], sys.version_info[1])
data = {
    "implementation_name": impl_name,
    "implementation_version": python_full,
    "os_name": os.name,
    "platform_machine": platform.machine(),
    "platform_python_implementation": platform.python_implementation(),
    "platform_release": platform.release(),
    "platform_system": platform.system(),
    "platform_version": platform.version(),
    "python_full_version": python_full,
    "python_version": python_short,
    "sys_platform": sys.platform,
}
print(json.dumps(data))`

// DetectMarkerEnv probes pythonPath for its marker environment.
func DetectMarkerEnv(ctx context.Context, py effects.PythonRuntime, pythonPath string) (MarkerEnv, error) {
	cmd := py.Command(ctx, pythonPath, "-c", markerEnvScript)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		return MarkerEnv{}, errors.Wrapf(err, "resolve: detect marker environment: %s", stderr)
	}
	var env MarkerEnv
	if err := json.Unmarshal(out, &env); err != nil {
		return MarkerEnv{}, errors.Wrap(err, "resolve: parse marker environment")
	}
	return env, nil
}

// fieldValue looks up a marker variable's value in env by its PEP 508 name.
func (env MarkerEnv) fieldValue(name string) (string, bool) {
	switch name {
	case "implementation_name":
		return env.ImplementationName, true
	case "implementation_version":
		return env.ImplementationVersion, true
	case "os_name":
		return env.OSName, true
	case "platform_machine":
		return env.PlatformMachine, true
	case "platform_python_implementation":
		return env.PlatformPythonImplementation, true
	case "platform_release":
		return env.PlatformRelease, true
	case "platform_system":
		return env.PlatformSystem, true
	case "platform_version":
		return env.PlatformVersion, true
	case "python_full_version":
		return env.PythonFullVersion, true
	case "python_version":
		return env.PythonVersion, true
	case "sys_platform":
		return env.SysPlatform, true
	default:
		return "", false
	}
}

// MarkerApplies evaluates the ";"-delimited marker clause of a dependency
// spec (e.g. "python_version<'3.12'") against env. An unparseable or absent
// marker is treated as applying, matching original_source's
// marker_applies() fallback of "assume true on parse failure" so a
// malformed marker never silently drops a dependency.
func MarkerApplies(spec string, env MarkerEnv) bool {
	marker := markerClause(spec)
	if marker == "" {
		return true
	}
	for _, clause := range splitMarkerAnd(marker) {
		if !evalMarkerClause(clause, env) {
			return false
		}
	}
	return true
}

func markerClause(spec string) string {
	idx := strings.Index(spec, ";")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(spec[idx+1:])
}

func splitMarkerAnd(marker string) []string {
	parts := strings.Split(marker, " and ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

var markerOps = []string{"==", "!=", ">=", "<=", ">", "<"}

func evalMarkerClause(clause string, env MarkerEnv) bool {
	for _, op := range markerOps {
		idx := strings.Index(clause, op)
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(clause[:idx])
		right := strings.Trim(strings.TrimSpace(clause[idx+len(op):]), `'"`)
		val, ok := env.fieldValue(left)
		if !ok {
			return true // unknown marker variable: don't block resolution on it
		}
		switch op {
		case "==":
			return val == right
		case "!=":
			return val != right
		case ">=", "<=", ">", "<":
			return compareVersions(val, right, op)
		}
	}
	return true
}

// compareVersions does a dotted-integer comparison (adequate for the
// python_version-style comparisons markers actually use); it is not a full
// PEP 440 comparator.
func compareVersions(a, b, op string) bool {
	av := splitVersionInts(a)
	bv := splitVersionInts(b)
	cmp := 0
	for i := 0; i < len(av) || i < len(bv); i++ {
		var x, y int
		if i < len(av) {
			x = av[i]
		}
		if i < len(bv) {
			y = bv[i]
		}
		if x != y {
			if x < y {
				cmp = -1
			} else {
				cmp = 1
			}
			break
		}
	}
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	}
	return false
}

func splitVersionInts(v string) []int {
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				break
			}
			n = n*10 + int(r-'0')
		}
		out = append(out, n)
	}
	return out
}
