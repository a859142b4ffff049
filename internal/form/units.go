package form

import (
	"fmt"
	"strings"

	"github.com/ehr/formimport/internal/platform/ucum"
)

// UnitReconciler matches a quantity's unit against an item's unit list,
// converting UCUM quantities when no unit matches exactly.
type UnitReconciler struct {
	conv ucum.Converter
}

// NewUnitReconciler returns a reconciler backed by conv. A nil conv uses the
// built-in UCUM table.
func NewUnitReconciler(conv ucum.Converter) *UnitReconciler {
	if conv == nil {
		conv = ucum.NewConverter()
	}
	return &UnitReconciler{conv: conv}
}

// Reconcile returns the quantity to assign to item and the unit it is
// expressed in. q is not modified. The returned unit is the entry of
// item.Units that matched, the default unit for a quantity without one, a
// free-text unit under an open unit policy, or nil when the item has no units.
func (r *UnitReconciler) Reconcile(item *Item, q Quantity) (Quantity, *Unit, error) {
	if q.Comparator != "" {
		return Quantity{}, nil, fmt.Errorf("%w: %q", ErrComparatorNotSupported, q.Comparator)
	}

	if len(item.Units) == 0 {
		if q.Unit != "" || q.Code != "" {
			return Quantity{}, nil, fmt.Errorf("%w: item %s has no units", ErrUnitMismatch, item.LinkID)
		}
		return q, nil, nil
	}
	if q.Unit == "" && q.Code == "" {
		// a bare number is read in the default unit
		if u := item.DefaultUnit(); u != nil {
			return q, u, nil
		}
	}

	system := strings.TrimSuffix(q.System, "/")
	isUCUM := system == ucum.SystemURI

	var matched, ucumCandidate *Unit
	for _, u := range item.Units {
		if u.System != "" && u.System == system && u.Code == q.Code ||
			u.System == "" && u.Name == q.Unit {
			matched = u
			break
		}
		if isUCUM && ucumCandidate == nil && u.System == ucum.SystemURI {
			ucumCandidate = u
		}
	}

	out := q
	if matched == nil && ucumCandidate != nil {
		res := r.conv.Convert(q.Code, q.Value, ucumCandidate.Code)
		if res.Status == ucum.StatusSucceeded {
			matched = ucumCandidate
			out.Value = roundToSignificant(res.ToVal, SignificantDigits(q.Value))
			out.Code = ucumCandidate.Code
			out.System = ucum.SystemURI
			out.Unit = ucumCandidate.Name
			if out.Unit == "" {
				out.Unit = ucumCandidate.Code
			}
		}
	}
	if matched != nil {
		return out, matched, nil
	}

	switch {
	case item.UnitOpen == OptionsOrString:
		out.Code = ""
		out.System = ""
		return out, &Unit{Name: out.Unit}, nil
	case item.UnitOpen == OptionsOrType && item.UnitSuppSystem != "" && item.UnitSuppSystem == system:
		return out, &Unit{Name: out.Unit, Code: out.Code, System: out.System}, nil
	}
	return Quantity{}, nil, fmt.Errorf("%w: %s %q", ErrUnitMismatch, item.LinkID, unitLabel(q))
}

func unitLabel(q Quantity) string {
	if q.Code != "" {
		return q.Code
	}
	return q.Unit
}
