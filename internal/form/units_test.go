package form

import (
	"errors"
	"testing"

	"github.com/ehr/formimport/internal/platform/ucum"
)

type fakeConverter struct {
	calls  int
	result ucum.Result
}

func (f *fakeConverter) Convert(from string, value float64, to string) ucum.Result {
	f.calls++
	return f.result
}

func kgItem() *Item {
	return &Item{
		LinkID:   "weight",
		DataType: TypeQuantity,
		Units: []*Unit{
			{Name: "kg", Code: "kg", System: ucum.SystemURI, Default: true},
			{Name: "lbs", Code: "[lb_av]", System: ucum.SystemURI},
		},
	}
}

func TestReconcile_ExactMatch(t *testing.T) {
	item := kgItem()
	in := Quantity{Value: 70.5, Unit: "kg", System: ucum.SystemURI, Code: "kg"}

	out, unit, err := NewUnitReconciler(nil).Reconcile(item, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Errorf("expected %+v unchanged, got %+v", in, out)
	}
	if unit != item.Units[0] {
		t.Errorf("expected the item's kg unit, got %+v", unit)
	}
}

func TestReconcile_SecondUnitMatches(t *testing.T) {
	item := kgItem()
	conv := &fakeConverter{}
	out, unit, err := NewUnitReconciler(conv).Reconcile(item, Quantity{Value: 150, System: ucum.SystemURI, Code: "[lb_av]"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit != item.Units[1] {
		t.Errorf("expected lbs unit, got %+v", unit)
	}
	if out.Value != 150 {
		t.Errorf("expected 150, got %v", out.Value)
	}
	if conv.calls != 0 {
		t.Errorf("expected no conversion, got %d calls", conv.calls)
	}
}

func TestReconcile_NameMatchWithoutSystem(t *testing.T) {
	item := &Item{LinkID: "h", DataType: TypeReal, Units: []*Unit{{Name: "inches"}, {Name: "cm"}}}
	_, unit, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 170, Unit: "cm"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit != item.Units[1] {
		t.Errorf("expected cm unit, got %+v", unit)
	}
}

func TestReconcile_TrailingSlashSystem(t *testing.T) {
	item := kgItem()
	_, unit, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 3, System: ucum.SystemURI + "/", Code: "kg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit != item.Units[0] {
		t.Errorf("expected kg unit, got %+v", unit)
	}
}

func TestReconcile_GramsToKilograms(t *testing.T) {
	item := &Item{
		LinkID:   "w",
		DataType: TypeQuantity,
		Units:    []*Unit{{Name: "kg", Code: "kg", System: ucum.SystemURI}},
	}
	in := Quantity{Value: 10, Unit: "g", Code: "g", System: ucum.SystemURI}

	out, unit, err := NewUnitReconciler(nil).Reconcile(item, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit != item.Units[0] {
		t.Errorf("expected kg unit, got %+v", unit)
	}
	if out.Value != 0.01 {
		t.Errorf("expected 0.01, got %v", out.Value)
	}
	if out.Code != "kg" || out.Unit != "kg" {
		t.Errorf("expected kg code and unit, got %q %q", out.Code, out.Unit)
	}
	if in.Value != 10 || in.Code != "g" {
		t.Errorf("expected input untouched, got %+v", in)
	}
}

func TestReconcile_ConversionKeepsSignificantDigits(t *testing.T) {
	item := &Item{
		LinkID:   "temp",
		DataType: TypeQuantity,
		Units:    []*Unit{{Code: "Cel", System: ucum.SystemURI}},
	}
	out, _, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 98.6, Code: "[degF]", System: ucum.SystemURI})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 37 {
		t.Errorf("expected 37, got %v", out.Value)
	}
	if out.Unit != "Cel" {
		t.Errorf("expected unit to fall back to the code, got %q", out.Unit)
	}
}

func TestReconcile_ZeroSignificantDigitsUsesRawValue(t *testing.T) {
	it := &Item{LinkID: "x", DataType: TypeQuantity, Units: []*Unit{{Code: "kg", System: ucum.SystemURI}}}
	conv := &fakeConverter{result: ucum.Result{Status: ucum.StatusSucceeded, ToVal: 0.000123456}}
	out, _, err := NewUnitReconciler(conv).Reconcile(it, Quantity{Value: 0.123456, Code: "g", System: ucum.SystemURI})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Value != 0.000123456 {
		t.Errorf("expected raw converted value, got %v", out.Value)
	}
}

func TestReconcile_Errors(t *testing.T) {
	tests := []struct {
		name string
		item *Item
		in   Quantity
		want error
	}{
		{
			name: "comparator",
			item: kgItem(),
			in:   Quantity{Value: 5, Comparator: "<", Code: "kg", System: ucum.SystemURI},
			want: ErrComparatorNotSupported,
		},
		{
			name: "unit on unitless item",
			item: &Item{LinkID: "n", DataType: TypeReal},
			in:   Quantity{Value: 5, Unit: "kg"},
			want: ErrUnitMismatch,
		},
		{
			name: "incommensurable",
			item: kgItem(),
			in:   Quantity{Value: 5, Code: "m", System: ucum.SystemURI},
			want: ErrUnitMismatch,
		},
		{
			name: "non-UCUM system",
			item: kgItem(),
			in:   Quantity{Value: 5, Code: "kilo", System: "http://example.org/units"},
			want: ErrUnitMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewUnitReconciler(nil).Reconcile(tt.item, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReconcile_NoUnitsNoUnit(t *testing.T) {
	item := &Item{LinkID: "n", DataType: TypeReal}
	out, unit, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit != nil || out.Value != 5 {
		t.Errorf("expected plain value 5 without unit, got %v %+v", out.Value, unit)
	}
}

func TestReconcile_BareNumberTakesDefaultUnit(t *testing.T) {
	item := kgItem()
	out, unit, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unit != item.DefaultUnit() || unit != item.Units[0] || out.Value != 5 {
		t.Errorf("expected 5 kg, got %v %+v", out.Value, unit)
	}

	item.Units[0].Default = false
	if _, _, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 5}); !errors.Is(err, ErrUnitMismatch) {
		t.Errorf("expected ErrUnitMismatch without a default unit, got %v", err)
	}
}

func TestReconcile_OpenAsString(t *testing.T) {
	item := kgItem()
	item.UnitOpen = OptionsOrString
	out, unit, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 2, Unit: "stone", Code: "st", System: "http://example.org/units"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Code != "" || out.System != "" {
		t.Errorf("expected code and system removed, got %q %q", out.Code, out.System)
	}
	if unit == nil || unit.Name != "stone" {
		t.Errorf("expected free-text unit stone, got %+v", unit)
	}
}

func TestReconcile_OpenAsSupplementalSystem(t *testing.T) {
	item := kgItem()
	item.UnitOpen = OptionsOrType
	item.UnitSuppSystem = "http://example.org/units"

	out, unit, err := NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 2, Unit: "stone", Code: "st", System: "http://example.org/units"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Code != "st" || unit.System != "http://example.org/units" {
		t.Errorf("expected value kept as-is, got %+v %+v", out, unit)
	}

	_, _, err = NewUnitReconciler(nil).Reconcile(item, Quantity{Value: 2, Code: "st", System: "http://other.org"})
	if !errors.Is(err, ErrUnitMismatch) {
		t.Errorf("expected ErrUnitMismatch for another system, got %v", err)
	}
}

func TestReconcile_FailedConversionFallsBackToPolicy(t *testing.T) {
	item := kgItem()
	conv := &fakeConverter{result: ucum.Result{Status: ucum.StatusFailed}}
	_, _, err := NewUnitReconciler(conv).Reconcile(item, Quantity{Value: 1, Code: "g", System: ucum.SystemURI})
	if !errors.Is(err, ErrUnitMismatch) {
		t.Errorf("expected ErrUnitMismatch, got %v", err)
	}
	if conv.calls != 1 {
		t.Errorf("expected one conversion attempt, got %d", conv.calls)
	}
}
