package materialize_test

import (
	"reflect"
	"testing"

	"github.com/px-dev/px/internal/materialize"
)

func TestTopoSortSysPathDependencyFirst(t *testing.T) {
	nodes := []materialize.DepNode{
		{Name: "flask", PkgBuildOID: "oid-flask", Requires: []string{"werkzeug", "jinja2"}},
		{Name: "werkzeug", PkgBuildOID: "oid-werkzeug"},
		{Name: "jinja2", PkgBuildOID: "oid-jinja2", Requires: []string{"markupsafe"}},
		{Name: "markupsafe", PkgBuildOID: "oid-markupsafe"},
	}
	order := materialize.TopoSortSysPath(nodes)

	index := make(map[string]int, len(order))
	for i, oid := range order {
		index[oid] = i
	}
	if index["oid-markupsafe"] >= index["oid-jinja2"] {
		t.Fatalf("markupsafe must precede jinja2: %v", order)
	}
	if index["oid-jinja2"] >= index["oid-flask"] {
		t.Fatalf("jinja2 must precede flask: %v", order)
	}
	if index["oid-werkzeug"] >= index["oid-flask"] {
		t.Fatalf("werkzeug must precede flask: %v", order)
	}
}

func TestTopoSortSysPathDeterministicTieBreak(t *testing.T) {
	nodes := []materialize.DepNode{
		{Name: "zeta", PkgBuildOID: "oid-zeta"},
		{Name: "alpha", PkgBuildOID: "oid-alpha"},
		{Name: "middle", PkgBuildOID: "oid-middle"},
	}
	order1 := materialize.TopoSortSysPath(nodes)

	shuffled := []materialize.DepNode{nodes[2], nodes[0], nodes[1]}
	order2 := materialize.TopoSortSysPath(shuffled)

	if !reflect.DeepEqual(order1, order2) {
		t.Fatalf("order should be independent of input order: %v vs %v", order1, order2)
	}
}

func TestTopoSortSysPathDedupsOnFirstOccurrence(t *testing.T) {
	nodes := []materialize.DepNode{
		{Name: "a", PkgBuildOID: "oid-a", Requires: []string{"shared"}},
		{Name: "b", PkgBuildOID: "oid-b", Requires: []string{"shared"}},
		{Name: "shared", PkgBuildOID: "oid-shared"},
	}
	order := materialize.TopoSortSysPath(nodes)
	count := 0
	for _, o := range order {
		if o == "oid-shared" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected oid-shared once, got %d times in %v", count, order)
	}
}
