package tensor

import (
	"encoding/json"
	"testing"
)

func TestFromNestedRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		shape []int
	}{
		{"vector", `[1.0, 2.0, 3.0]`, []int{3}},
		{"matrix", `[[1, 2], [3, 4], [5, 6]]`, []int{3, 2}},
		{"rank3", `[[[1], [2]], [[3], [4]]]`, []int{2, 2, 1}},
		{"scalar", `7.5`, nil},
		{"empty", `[]`, []int{0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v any
			if err := json.Unmarshal([]byte(tc.doc), &v); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			ten, err := FromNested(v)
			if err != nil {
				t.Fatalf("from nested: %v", err)
			}
			if !sameShape(ten.Shape, tc.shape) {
				t.Fatalf("shape %v, want %v", ten.Shape, tc.shape)
			}

			// Re-encode and decode again; must be identical.
			out, err := json.Marshal(ten.Nested())
			if err != nil {
				t.Fatalf("marshal nested: %v", err)
			}
			var v2 any
			if err := json.Unmarshal(out, &v2); err != nil {
				t.Fatalf("unmarshal round trip: %v", err)
			}
			ten2, err := FromNested(v2)
			if err != nil {
				t.Fatalf("from nested round trip: %v", err)
			}
			if !ten.Equal(ten2, 1e-12) {
				t.Fatalf("round trip mismatch: %v vs %v", ten, ten2)
			}
		})
	}
}

func TestFromNestedRejectsMalformed(t *testing.T) {
	docs := []string{
		`[[1, 2], [3]]`,   // ragged
		`["a", "b"]`,      // non-numeric
		`[1, [2, 3]]`,     // mixed depth
		`{"x": 1}`,        // object
	}
	for _, doc := range docs {
		var v any
		if err := json.Unmarshal([]byte(doc), &v); err != nil {
			t.Fatalf("unmarshal %q: %v", doc, err)
		}
		if _, err := FromNested(v); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestAt(t *testing.T) {
	m, err := New([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := m.At(1, 2)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if got != 6 {
		t.Fatalf("at(1,2) = %v, want 6", got)
	}
	if _, err := m.At(2, 0); err == nil {
		t.Fatal("expected out of range error")
	}
	if _, err := m.At(1); err == nil {
		t.Fatal("expected rank mismatch error")
	}
}

func TestZerosAndEqual(t *testing.T) {
	z := Zeros(2, 2)
	if z.Len() != 4 {
		t.Fatalf("len = %d, want 4", z.Len())
	}
	for _, v := range z.Data {
		if v != 0 {
			t.Fatalf("zeros contains %v", v)
		}
	}
	if z.Equal(Zeros(4), 0) {
		t.Fatal("tensors of different shape compare equal")
	}
	if !Vector(1, 2).Equal(Vector(1, 2+1e-13), 1e-12) {
		t.Fatal("tolerance not applied")
	}
}

func TestNewShapeMismatch(t *testing.T) {
	if _, err := New([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
