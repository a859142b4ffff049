package form

import (
	"math"

	"github.com/ehr/formimport/internal/platform/ucum"
)

// QuantityValue is a converted quantity: the number goes to the item value and
// the unit to the item unit.
type QuantityValue struct {
	Value float64
	Unit  *Unit
}

// ValueConverter turns FHIR typed values into item values.
type ValueConverter struct {
	Units   *UnitReconciler
	Answers AnswerMatcher
}

// NewValueConverter returns a converter using conv for unit conversion.
func NewValueConverter(conv ucum.Converter) *ValueConverter {
	return &ValueConverter{Units: NewUnitReconciler(conv)}
}

// ConvertValues converts vals for item without assigning them. Values that
// cannot be represented are left out and reported in the returned messages.
func (c *ValueConverter) ConvertValues(item *Item, vals []TypedValue) ([]any, []Message) {
	var (
		out  []any
		msgs []Message
	)
	for _, v := range vals {
		var (
			val any
			ok  bool
		)
		switch {
		case item.HasAnswerList() && item.DataType == TypeCoding:
			val, ok = c.Answers.MatchCoded(item, v)
		case item.HasAnswerList() && len(item.Answers) > 0:
			val, ok = c.Answers.MatchScalar(item, v)
		case v.ValueQuantity != nil && isNumeric(item.DataType):
			q, unit, err := c.Units.Reconcile(item, *v.ValueQuantity)
			if err != nil {
				msgs = append(msgs, messageForError(err))
				continue
			}
			val, ok = QuantityValue{Value: q.Value, Unit: unit}, true
		default:
			val, ok = plainValue(item.DataType, v)
		}
		if ok {
			out = append(out, val)
			msgs = append(msgs, NotOnListMessages(val)...)
		}
	}
	return out, msgs
}

// ProcessValues converts vals and assigns them to item, or to its default
// answer when setDefault is true. Messages replace earlier ones from the same
// step.
func (c *ValueConverter) ProcessValues(item *Item, vals []TypedValue, setDefault bool) {
	converted, msgs := c.ConvertValues(item, vals)

	var unit *Unit
	for i, v := range converted {
		if q, ok := v.(QuantityValue); ok {
			converted[i] = q.Value
			if item.DataType == TypeInteger {
				converted[i] = int64(math.Round(q.Value))
			}
			if unit == nil {
				unit = q.Unit
			}
		}
	}

	var val any
	switch {
	case item.AnswerRepeats():
		val = converted
	case len(converted) > 0:
		val = converted[0]
	}

	if setDefault {
		item.DefaultAnswer = val
		if unit != nil {
			markDefaultUnit(item, unit)
		}
		item.SetMessages(SourceDefaultAnswers, msgs...)
		return
	}
	item.Value = val
	if unit != nil {
		item.Unit = unit
	}
	item.SetMessages(SourceFHIRValues, msgs...)
}

// markDefaultUnit makes u the only default entry of item.Units when u is one
// of them.
func markDefaultUnit(item *Item, u *Unit) {
	found := false
	for _, cand := range item.Units {
		if cand == u {
			found = true
		}
	}
	if !found {
		return
	}
	for _, cand := range item.Units {
		cand.Default = cand == u
	}
}

// responseValue extracts the value of one response answer according to the
// item's data type.
func (c *ValueConverter) responseValue(item *Item, a TypedValue) (any, *Unit, bool, error) {
	switch item.DataType {
	case TypeBoolean:
		if a.ValueBoolean != nil {
			return *a.ValueBoolean, nil, true, nil
		}
	case TypeInteger:
		if len(item.Answers) > 0 {
			v, ok := c.Answers.MatchScalar(item, a)
			return v, nil, ok, nil
		}
		if a.ValueQuantity != nil {
			var unit *Unit
			if a.ValueQuantity.Code != "" {
				unit = &Unit{Name: a.ValueQuantity.Code}
			}
			return int64(math.Round(a.ValueQuantity.Value)), unit, true, nil
		}
		if a.ValueInteger != nil {
			return *a.ValueInteger, nil, true, nil
		}
	case TypeReal, TypeQuantity:
		switch {
		case a.ValueQuantity != nil:
			q, unit, err := c.Units.Reconcile(item, *a.ValueQuantity)
			if err != nil {
				return nil, nil, false, err
			}
			return q.Value, unit, true, nil
		case a.ValueDecimal != nil:
			return *a.ValueDecimal, nil, true, nil
		case a.ValueInteger != nil:
			return float64(*a.ValueInteger), nil, true, nil
		}
	case TypeDate, TypeTime, TypeString:
		if len(item.Answers) > 0 {
			v, ok := c.Answers.MatchScalar(item, a)
			return v, nil, ok, nil
		}
		if s := scalarText(item.DataType, a); s != "" {
			return s, nil, true, nil
		}
	case TypeDateTime:
		if a.ValueDateTime != nil {
			return *a.ValueDateTime, nil, true, nil
		}
	case TypeCoding:
		v, ok := c.Answers.MatchCoded(item, a)
		return v, nil, ok, nil
	case TypeAttachment:
		if a.ValueAttachment != nil {
			return a.ValueAttachment, nil, true, nil
		}
	case TypeURL:
		if a.ValueURI != nil {
			return *a.ValueURI, nil, true, nil
		}
	case TypeReference:
		if a.ValueReference != nil {
			return a.ValueReference, nil, true, nil
		}
	case TypeSection, TypeTitle, "":
	default:
		if a.ValueString != nil {
			return *a.ValueString, nil, true, nil
		}
	}
	return nil, nil, false, nil
}

// assignResponse sets the item's value from a response item's answers. A
// repeating answer takes every answer as a list; otherwise only the first is
// used. Domain errors are returned as messages.
func (c *ValueConverter) assignResponse(item *Item, answers []ResponseAnswer) []Message {
	if item.DataType.Structural() || len(answers) == 0 {
		return nil
	}
	// anything carrying units is numeric
	if (item.DataType == "" || item.DataType == TypeString) && len(item.Units) > 0 {
		item.DataType = TypeReal
	}

	var msgs []Message
	if !item.AnswerRepeats() {
		v, unit, ok, err := c.responseValue(item, answers[0].TypedValue)
		if err != nil {
			return append(msgs, messageForError(err))
		}
		if ok {
			item.Value = v
			if unit != nil {
				item.Unit = unit
			}
			msgs = append(msgs, NotOnListMessages(v)...)
		}
		return msgs
	}

	values := make([]any, 0, len(answers))
	for _, a := range answers {
		v, unit, ok, err := c.responseValue(item, a.TypedValue)
		if err != nil {
			msgs = append(msgs, messageForError(err))
			continue
		}
		if !ok {
			continue
		}
		values = append(values, v)
		msgs = append(msgs, NotOnListMessages(v)...)
		if unit != nil && item.Unit == nil {
			item.Unit = unit
		}
	}
	item.Value = values
	return msgs
}

func isNumeric(dt DataType) bool {
	return dt == TypeQuantity || dt == TypeReal || dt == TypeInteger
}

// plainValue extracts an unlisted value.
func plainValue(dt DataType, v TypedValue) (any, bool) {
	switch {
	case v.ValueBoolean != nil:
		return *v.ValueBoolean, true
	case v.ValueInteger != nil:
		if dt == TypeReal || dt == TypeQuantity {
			return float64(*v.ValueInteger), true
		}
		return *v.ValueInteger, true
	case v.ValueDecimal != nil:
		return *v.ValueDecimal, true
	case v.ValueDate != nil:
		return *v.ValueDate, true
	case v.ValueDateTime != nil:
		return *v.ValueDateTime, true
	case v.ValueTime != nil:
		return *v.ValueTime, true
	case v.ValueString != nil:
		return *v.ValueString, true
	case v.ValueURI != nil:
		return *v.ValueURI, true
	case v.ValueAttachment != nil:
		return v.ValueAttachment, true
	case v.ValueReference != nil:
		return v.ValueReference, true
	case v.ValueCoding != nil:
		c := v.ValueCoding
		return &Answer{Code: c.Code, Text: c.Display, System: c.System}, true
	case v.ValueCodeableConcept != nil && len(v.ValueCodeableConcept.Coding) > 0:
		c := v.ValueCodeableConcept.Coding[0]
		return &Answer{Code: c.Code, Text: c.Display, System: c.System}, true
	case v.ValueQuantity != nil:
		return v.ValueQuantity.Value, true
	}
	return nil, false
}
