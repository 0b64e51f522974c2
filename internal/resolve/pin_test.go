package resolve_test

import (
	"testing"

	"github.com/px-dev/px/internal/resolve"
)

func TestAutopinSpecKeySortsExtras(t *testing.T) {
	key := resolve.AutopinKey("requests", []string{"socks", "secure"})
	if key != "requests|secure,socks" {
		t.Fatalf("key = %q, want requests|secure,socks", key)
	}
}

func TestAutopinPinKeyDropsMarkersAndSortsExtras(t *testing.T) {
	pin := resolve.PinSpec{
		Name:       "requests",
		Specifier:  "requests[socks,secure]==2.32.0; python_version<'3.12'",
		Version:    "2.32.0",
		Normalized: "requests",
		Extras:     []string{"socks", "secure"},
		Marker:     "python_version<'3.12'",
		Direct:     true,
	}
	key := resolve.AutopinKey(pin.Name, pin.Extras)
	if key != "requests|secure,socks" {
		t.Fatalf("key = %q, want requests|secure,socks", key)
	}
}

func TestSpecRequiresPin(t *testing.T) {
	cases := map[string]bool{
		"requests":              true,
		"requests>=2.0":         true,
		"requests==2.31.0":      false,
		"requests==2.31.0; sys_platform=='linux'": false,
	}
	for spec, want := range cases {
		if got := resolve.SpecRequiresPin(spec); got != want {
			t.Errorf("SpecRequiresPin(%q) = %v, want %v", spec, got, want)
		}
	}
}

func TestMarkerAppliesEvaluatesPythonVersion(t *testing.T) {
	env := resolve.MarkerEnv{PythonVersion: "3.11", SysPlatform: "linux"}

	if !resolve.MarkerApplies(`requests==2.31.0; python_version<'3.12'`, env) {
		t.Fatal("expected marker to apply for python_version<3.12 under 3.11")
	}
	if resolve.MarkerApplies(`requests==2.31.0; python_version>='3.12'`, env) {
		t.Fatal("expected marker to not apply for python_version>=3.12 under 3.11")
	}
	if !resolve.MarkerApplies(`requests==2.31.0; sys_platform=='linux'`, env) {
		t.Fatal("expected sys_platform=='linux' to apply")
	}
	if resolve.MarkerApplies(`requests==2.31.0; sys_platform=='darwin'`, env) {
		t.Fatal("expected sys_platform=='darwin' to not apply")
	}
}

func TestMarkerAppliesDefaultsTrueOnNoMarker(t *testing.T) {
	env := resolve.MarkerEnv{}
	if !resolve.MarkerApplies("requests==2.31.0", env) {
		t.Fatal("spec with no marker clause should always apply")
	}
}

func TestMergeResolvedReplacesUnpinnedMatchingMarker(t *testing.T) {
	env := resolve.MarkerEnv{PythonVersion: "3.11"}
	original := []string{"requests", "flask==3.0.0", "black; python_version<'3.10'"}
	pins := []resolve.PinSpec{{Specifier: "requests==2.31.0"}}

	merged := resolve.MergeResolved(original, pins, env)
	want := []string{"requests==2.31.0", "flask==3.0.0", "black; python_version<'3.10'"}
	for i := range want {
		if merged[i] != want[i] {
			t.Fatalf("merged[%d] = %q, want %q", i, merged[i], want[i])
		}
	}
}

func TestAutopinReusesSatisfyingLockedVersion(t *testing.T) {
	fresh := []resolve.PinSpec{{Name: "requests", Specifier: "requests>=2.30.0", Version: "2.32.0"}}
	existing := []resolve.PinSpec{{Name: "requests", Specifier: "requests==2.31.0", Version: "2.31.0"}}

	satisfies := func(specifier, version string) bool {
		// stand-in satisfies check: >=2.30.0 is satisfied by 2.31.0
		return version == "2.31.0"
	}
	merged := resolve.Autopin(fresh, existing, satisfies)
	if merged[0].Version != "2.31.0" {
		t.Fatalf("expected locked version 2.31.0 to be reused, got %s", merged[0].Version)
	}
}

func TestAutopinBumpsWhenLockedNoLongerSatisfies(t *testing.T) {
	fresh := []resolve.PinSpec{{Name: "requests", Specifier: "requests>=2.32.0", Version: "2.32.0"}}
	existing := []resolve.PinSpec{{Name: "requests", Specifier: "requests==2.31.0", Version: "2.31.0"}}

	satisfies := func(specifier, version string) bool { return false }
	merged := resolve.Autopin(fresh, existing, satisfies)
	if merged[0].Version != "2.32.0" {
		t.Fatalf("expected bump to 2.32.0, got %s", merged[0].Version)
	}
}
