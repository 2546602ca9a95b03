package utils

import (
	"testing"
)

func TestFloat64ValueTakesWireAndNativeNumbers(t *testing.T) {
	for _, v := range []interface{}{float64(3), float32(3), int(3), int32(3), int64(3), uint64(3)} {
		got, ok := Float64Value(v)
		if !ok || got != 3 {
			t.Errorf("Float64Value(%T) = %v, %v, want 3, true", v, got, ok)
		}
	}
	if _, ok := Float64Value("3"); ok {
		t.Errorf("strings should not coerce to numbers")
	}
}

func TestMapReaders(t *testing.T) {
	m := map[string]interface{}{
		"count":   3,
		"rate":    2.5,
		"name":    "front",
		"enabled": false,
		"nested":  map[string]interface{}{"k": 1.0},
		"list":    []interface{}{1.0, 2.0},
	}

	if v, err := Float64FromMap(m, "count"); err != nil || v != 3 {
		t.Errorf("Float64FromMap failed to coerce an int: got %f, err %v", v, err)
	}
	if v, err := Float64FromMap(m, "rate"); err != nil || v != 2.5 {
		t.Errorf("Float64FromMap failed: got %f, err %v", v, err)
	}
	if _, err := Float64FromMap(m, "missing"); err == nil {
		t.Errorf("Expected error for missing field, got nil")
	}
	if _, err := Float64FromMap(m, "name"); err == nil {
		t.Errorf("Expected error for non-numeric field, got nil")
	}
	if v, err := IntFromMap(m, "rate"); err != nil || v != 2 {
		t.Errorf("IntFromMap failed: got %d, err %v", v, err)
	}
	if s, err := StringFromMap(m, "name"); err != nil || s != "front" {
		t.Errorf("StringFromMap failed: got %q, err %v", s, err)
	}
	if _, err := StringFromMap(m, "count"); err == nil {
		t.Errorf("Expected error for non-string field, got nil")
	}
	if b, err := BoolFromMap(m, "enabled", true); err != nil || b {
		t.Errorf("BoolFromMap failed: got %v, err %v", b, err)
	}
	if b, err := BoolFromMap(m, "absent", true); err != nil || !b {
		t.Errorf("BoolFromMap default failed: got %v, err %v", b, err)
	}
	if _, err := BoolFromMap(m, "count", false); err == nil {
		t.Errorf("Expected error for non-bool field, got nil")
	}
	if nested, err := MapFromMap(m, "nested"); err != nil || nested["k"] != 1.0 {
		t.Errorf("MapFromMap failed: got %v, err %v", nested, err)
	}
	if _, err := MapFromMap(m, "list"); err == nil {
		t.Errorf("Expected error for non-map field, got nil")
	}
	if list, err := SliceFromMap(m, "list"); err != nil || len(list) != 2 {
		t.Errorf("SliceFromMap failed: got %v, err %v", list, err)
	}
	if _, err := SliceFromMap(m, "nested"); err == nil {
		t.Errorf("Expected error for non-list field, got nil")
	}
}

func TestMatrix16FromValue(t *testing.T) {
	want := identity16()
	want[12] = 42

	got, err := Matrix16FromValue(Matrix16ToSlice(want))
	if err != nil {
		t.Fatalf("Matrix16FromValue failed on a reply slice: %v", err)
	}
	if !matricesAlmostEqual(got, want, 0) {
		t.Errorf("Round trip through Matrix16ToSlice failed: got %v, want %v", got, want)
	}

	// Integer elements show up when payloads are built by hand.
	mixed := make([]interface{}, 16)
	for i := range mixed {
		mixed[i] = 0
	}
	mixed[0], mixed[5], mixed[10], mixed[15] = 1, 1.0, 1, 1.0
	got, err = Matrix16FromValue(mixed)
	if err != nil {
		t.Fatalf("Matrix16FromValue failed on mixed numerics: %v", err)
	}
	if !matricesAlmostEqual(got, identity16(), 0) {
		t.Errorf("Mixed numeric decode failed: got %v", got)
	}

	got, err = Matrix16FromValue(want[:])
	if err != nil {
		t.Fatalf("Matrix16FromValue failed on []float64: %v", err)
	}
	if !matricesAlmostEqual(got, want, 0) {
		t.Errorf("[]float64 decode failed: got %v", got)
	}

	if _, err := Matrix16FromValue(make([]interface{}, 15)); err == nil {
		t.Errorf("Expected error for 15 elements, got nil")
	}
	if _, err := Matrix16FromValue("not a list"); err == nil {
		t.Errorf("Expected error for non-list value, got nil")
	}
	bad := make([]interface{}, 16)
	for i := range bad {
		bad[i] = 0.0
	}
	bad[3] = "x"
	if _, err := Matrix16FromValue(bad); err == nil {
		t.Errorf("Expected error for non-numeric element, got nil")
	}
}

func TestMarkerKey(t *testing.T) {
	if got := MarkerKey("pattern", 3); got != "pattern-3" {
		t.Errorf("got %q, want pattern-3", got)
	}
	if got := MarkerKey("barcode", 12); got != "barcode-12" {
		t.Errorf("got %q, want barcode-12", got)
	}
}
