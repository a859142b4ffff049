package form

import (
	"strconv"
)

// AnswerMatcher matches response values against an item's answer list. It
// never modifies the list.
type AnswerMatcher struct{}

// codings extracts the candidate codings of a coded value.
func codings(v TypedValue) []Coding {
	switch {
	case v.ValueCodeableConcept != nil:
		return v.ValueCodeableConcept.Coding
	case v.ValueCoding != nil:
		return []Coding{*v.ValueCoding}
	}
	return nil
}

func sameAnswer(c Coding, a *Answer) bool {
	if c.System != a.System {
		return false
	}
	return c.Code != "" && a.Code != "" && c.Code == a.Code ||
		c.Display != "" && a.Text != "" && c.Display == a.Text
}

// MatchCoded matches a Coding or CodeableConcept value against item.Answers.
// A match returns the *Answer held by the list. Without a match an
// optionsOrString item keeps the value off-list, and a closed item drops it
// (ok is false). An item whose list is still empty receives a provisional
// answer built from the coding; Revalidate settles it once the list loads.
// A plain valueString is accepted only by optionsOrString items.
func (AnswerMatcher) MatchCoded(item *Item, v TypedValue) (any, bool) {
	cs := codings(v)
	if len(cs) == 0 {
		if v.ValueString != nil && item.AnswerConstraint == OptionsOrString {
			return *v.ValueString, true
		}
		return nil, false
	}

	for _, c := range cs {
		for _, a := range item.Answers {
			if sameAnswer(c, a) {
				return a, true
			}
		}
	}

	c := cs[0]
	switch {
	case len(item.Answers) == 0:
		return &Answer{Code: c.Code, Text: c.Display, System: c.System}, true
	case item.AnswerConstraint == OptionsOrString:
		return &Answer{Code: c.Code, Text: c.Display, System: c.System, NotOnList: true}, true
	}
	return nil, false
}

// scalarText is the text a string, integer, date or time value is matched on.
func scalarText(dt DataType, v TypedValue) string {
	switch dt {
	case TypeString:
		if v.ValueString != nil {
			return *v.ValueString
		}
	case TypeInteger:
		if v.ValueInteger != nil {
			return strconv.FormatInt(*v.ValueInteger, 10)
		}
	case TypeDate:
		if v.ValueDate != nil {
			return *v.ValueDate
		}
	case TypeTime:
		if v.ValueTime != nil {
			return *v.ValueTime
		}
	}
	return ""
}

// MatchScalar matches a string, integer, date or time value against the
// option texts of item.Answers. Unmatched values are kept: as the raw string
// for an optionsOrString item answered with valueString, otherwise as an
// off-list answer.
func (AnswerMatcher) MatchScalar(item *Item, v TypedValue) (any, bool) {
	text := scalarText(item.DataType, v)
	if text == "" {
		if v.ValueString != nil && item.AnswerConstraint == OptionsOrString {
			return *v.ValueString, true
		}
		return nil, false
	}
	for _, a := range item.Answers {
		if a.Text == text {
			return a, true
		}
	}
	if item.AnswerConstraint == OptionsOrString && v.ValueString != nil {
		return *v.ValueString, true
	}
	return &Answer{Text: text, NotOnList: len(item.Answers) > 0}, true
}

// Revalidate re-matches the value and default answer of item against its
// current answer list, typically right after the list was loaded.
func (m AnswerMatcher) Revalidate(item *Item) {
	item.Value = m.revalidate(item, item.Value)
	item.DefaultAnswer = m.revalidate(item, item.DefaultAnswer)
}

func (m AnswerMatcher) revalidate(item *Item, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(val))
		for _, e := range val {
			if r := m.revalidate(item, e); r != nil {
				out = append(out, r)
			}
		}
		return out
	case *Answer:
		if item.DataType == TypeCoding {
			c := Coding{System: val.System, Code: val.Code, Display: val.Text}
			if r, ok := m.MatchCoded(item, TypedValue{ValueCoding: &c}); ok {
				return r
			}
			return nil
		}
		for _, a := range item.Answers {
			if a.Text == val.Text {
				return a
			}
		}
		off := *val
		off.NotOnList = true
		return &off
	}
	return v
}
