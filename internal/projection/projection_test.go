package projection

import (
	"reflect"
	"testing"
)

func sample() map[string]any {
	return map[string]any{
		"id":     float64(42),
		"status": "rental",
		"customer": map[string]any{
			"first_name": "Keanu",
			"last_name":  "Kahale",
			"email":      "k@example.com",
		},
		"all_additional_charges": []any{
			map[string]any{"label": "GPS", "pivot": map[string]any{"total_price": "5.00"}},
			map[string]any{"label": "Child seat", "pivot": map[string]any{"total_price": "7.50"}},
		},
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Spec
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "id", want: Spec{"id"}},
		{name: "multiple with spaces", in: "id, customer.first_name ,status", want: Spec{"id", "customer.first_name", "status"}},
		{name: "trailing comma", in: "id,", want: Spec{"id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyEmptySpecReturnsRecordUnchanged(t *testing.T) {
	rec := sample()
	got := Spec(nil).Apply(rec)
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("empty spec changed record: %v", got)
	}
}

func TestApplyTopLevelRoundTrip(t *testing.T) {
	rec := sample()
	spec := Spec{"id", "status", "customer", "all_additional_charges"}
	got := spec.Apply(rec)
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("projecting all top-level keys should equal original\n got: %v\nwant: %v", got, rec)
	}
}

func TestApplyNestedPath(t *testing.T) {
	got := Spec{"customer.first_name"}.Apply(sample())
	want := map[string]any{
		"customer": map[string]any{"first_name": "Keanu"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApplySharedPrefixMerges(t *testing.T) {
	got := Spec{"customer.first_name", "customer.last_name"}.Apply(sample())
	want := map[string]any{
		"customer": map[string]any{"first_name": "Keanu", "last_name": "Kahale"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApplyMissingPathOmitted(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{name: "missing top-level", spec: Spec{"nonexistent"}},
		{name: "missing nested leaf", spec: Spec{"customer.phone"}},
		{name: "missing nested root", spec: Spec{"vehicle.label"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.spec.Apply(sample())
			if len(got) != 0 {
				t.Errorf("missing path should yield empty record, got %v", got)
			}
		})
	}
}

func TestApplyMixedPresentAndMissing(t *testing.T) {
	got := Spec{"id", "nonexistent"}.Apply(sample())
	want := map[string]any{"id": float64(42)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApplyPathThroughList(t *testing.T) {
	got := Spec{"all_additional_charges.label"}.Apply(sample())
	want := map[string]any{
		"all_additional_charges": []any{
			map[string]any{"label": "GPS"},
			map[string]any{"label": "Child seat"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApplyDeepPathThroughList(t *testing.T) {
	got := Spec{"all_additional_charges.pivot.total_price"}.Apply(sample())
	want := map[string]any{
		"all_additional_charges": []any{
			map[string]any{"pivot": map[string]any{"total_price": "5.00"}},
			map[string]any{"pivot": map[string]any{"total_price": "7.50"}},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApplyDoesNotMutateSource(t *testing.T) {
	rec := sample()
	Spec{"customer.first_name"}.Apply(rec)
	if !reflect.DeepEqual(rec, sample()) {
		t.Errorf("source record was mutated: %v", rec)
	}
}
