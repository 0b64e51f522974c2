package canon_test

import (
	"testing"

	"github.com/px-dev/px/internal/canon"
)

func TestJSONKeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": []any{3, 2, 1}}
	b := map[string]any{"c": []any{3, 2, 1}, "a": 2, "b": 1}

	encA, err := canon.JSON(a)
	if err != nil {
		t.Fatal(err)
	}
	encB, err := canon.JSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(encA) != string(encB) {
		t.Fatalf("canonical encodings differ:\n%s\n%s", encA, encB)
	}
	want := `{"a":2,"b":1,"c":[3,2,1]}`
	if string(encA) != want {
		t.Fatalf("got %s, want %s", encA, want)
	}
}

func TestJSONOIDStable(t *testing.T) {
	oid1, _, err := canon.JSONOID(map[string]any{"x": 1, "y": "z"})
	if err != nil {
		t.Fatal(err)
	}
	oid2, _, err := canon.JSONOID(map[string]any{"y": "z", "x": 1})
	if err != nil {
		t.Fatal(err)
	}
	if oid1 != oid2 {
		t.Fatalf("oids differ for equivalent input: %s vs %s", oid1, oid2)
	}
	if len(oid1) != 64 {
		t.Fatalf("oid should be 64 hex chars, got %d", len(oid1))
	}
}

func TestJSONNumericallyEqualInput(t *testing.T) {
	oid1, _, _ := canon.JSONOID(map[string]any{"a": 1})
	// a differently-constructed but equivalent value
	oid2, _, _ := canon.JSONOID(map[string]any{"a": 1.0})
	if oid1 != oid2 {
		t.Fatalf("expected same oid for numerically-equal input, got %s vs %s", oid1, oid2)
	}
}
