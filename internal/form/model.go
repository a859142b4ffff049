package form

import (
	"strconv"
)

// DataType is the data type code of a form item.
type DataType string

const (
	TypeBoolean    DataType = "BL"
	TypeInteger    DataType = "INT"
	TypeReal       DataType = "REAL"
	TypeQuantity   DataType = "QTY"
	TypeString     DataType = "ST"
	TypeText       DataType = "TX"
	TypeDate       DataType = "DT"
	TypeTime       DataType = "TM"
	TypeDateTime   DataType = "DTM"
	TypeCoding     DataType = "CODING"
	TypeSection    DataType = "SECTION"
	TypeTitle      DataType = "TITLE"
	TypeAttachment DataType = "attachment"
	TypeURL        DataType = "URL"
	TypeReference  DataType = "REF"
)

// Structural reports whether items of this type carry no value of their own.
func (t DataType) Structural() bool {
	return t == TypeSection || t == TypeTitle
}

// AnswerConstraint governs whether values outside an item's list are allowed.
// The same codes are used for the unit-open policy of quantity items.
type AnswerConstraint string

const (
	OptionsOnly     AnswerConstraint = "optionsOnly"
	OptionsOrString AnswerConstraint = "optionsOrString"
	OptionsOrType   AnswerConstraint = "optionsOrType"
)

// Cardinality holds min/max occurrence. Max is a number or "*".
type Cardinality struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

func (c *Cardinality) repeats() bool {
	if c == nil {
		return false
	}
	if c.Max == "*" {
		return true
	}
	n, err := strconv.Atoi(c.Max)
	return err == nil && n > 1
}

// Answer is an entry of an item's answer list, or a value drawn from one.
type Answer struct {
	Code      string   `json:"code,omitempty"`
	Text      string   `json:"text,omitempty"`
	System    string   `json:"system,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	TextHTML  string   `json:"textHTML,omitempty"`
	NotOnList bool     `json:"_notOnList,omitempty"`
}

// Unit is an entry of an item's unit list.
type Unit struct {
	Name    string `json:"name,omitempty"`
	Code    string `json:"code,omitempty"`
	System  string `json:"system,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// Restrictions are the value constraints of an item. Min and max bounds are
// always inclusive.
type Restrictions struct {
	MinLength        *int   `json:"minLength,omitempty"`
	MaxLength        *int   `json:"maxLength,omitempty"`
	MinInclusive     any    `json:"minInclusive,omitempty"`
	MaxInclusive     any    `json:"maxInclusive,omitempty"`
	Pattern          string `json:"pattern,omitempty"`
	MaxDecimalPlaces *int   `json:"maxDecimalPlaces,omitempty"`
}

// Item is a node of the form tree.
//
// Value and DefaultAnswer hold bool, int64, float64, string, *Answer,
// *Attachment, *Reference, or a []any of those when the answer repeats.
type Item struct {
	LinkID   string   `json:"linkId"`
	Question string   `json:"question,omitempty"`
	Prefix   string   `json:"prefix,omitempty"`
	DataType DataType `json:"dataType,omitempty"`

	QuestionCardinality *Cardinality `json:"questionCardinality,omitempty"`
	AnswerCardinality   *Cardinality `json:"answerCardinality,omitempty"`

	AnswerConstraint     AnswerConstraint `json:"answerConstraint,omitempty"`
	Answers              []*Answer        `json:"answers,omitempty"`
	AnswerValueSet       string           `json:"answerValueSet,omitempty"`
	ExternallyDefined    string           `json:"externallyDefined,omitempty"`
	IsSearchAutocomplete bool             `json:"isSearchAutocomplete,omitempty"`
	TerminologyServer    string           `json:"terminologyServer,omitempty"`

	Units          []*Unit          `json:"units,omitempty"`
	Unit           *Unit            `json:"unit,omitempty"`
	UnitOpen       AnswerConstraint `json:"_unitOpen,omitempty"`
	UnitSuppSystem string           `json:"_unitSuppSystem,omitempty"`

	Value         any `json:"value,omitempty"`
	DefaultAnswer any `json:"defaultAnswer,omitempty"`

	Restrictions           *Restrictions `json:"restrictions,omitempty"`
	Hidden                 bool          `json:"isHiddenInDef,omitempty"`
	EntryFormat            string        `json:"entryFormat,omitempty"`
	MaxAttachmentSize      int64         `json:"maxAttachmentSize,omitempty"`
	AllowedAttachmentTypes []string      `json:"allowedAttachmentTypes,omitempty"`

	Extension []Extension `json:"extension,omitempty"`
	Messages  []Message   `json:"messages,omitempty"`
	Items     []*Item     `json:"items,omitempty"`

	parent *Item
}

// Parent returns the enclosing item, or nil for a top-level item.
func (i *Item) Parent() *Item {
	return i.parent
}

// QuestionRepeats reports whether the item itself may occur more than once.
func (i *Item) QuestionRepeats() bool {
	return i.QuestionCardinality.repeats()
}

// AnswerRepeats reports whether the item accepts more than one value.
func (i *Item) AnswerRepeats() bool {
	return i.AnswerCardinality.repeats()
}

// HasAnswerList reports whether the item draws its values from a list.
func (i *Item) HasAnswerList() bool {
	return len(i.Answers) > 0 || i.AnswerValueSet != "" || i.ExternallyDefined != ""
}

// DefaultUnit returns the unit flagged default, if any.
func (i *Item) DefaultUnit() *Unit {
	for _, u := range i.Units {
		if u.Default {
			return u
		}
	}
	return nil
}

// Form is the root of a form tree.
type Form struct {
	ID                string           `json:"id,omitempty"`
	URL               string           `json:"url,omitempty"`
	Name              string           `json:"name,omitempty"`
	Title             string           `json:"title,omitempty"`
	Code              string           `json:"code,omitempty"`
	TerminologyServer string           `json:"terminologyServer,omitempty"`
	Contained         []map[string]any `json:"contained,omitempty"`
	Extension         []Extension      `json:"extension,omitempty"`
	Items             []*Item          `json:"items,omitempty"`
}

// LinkParents sets the parent back-references of every item in the tree and
// normalizes values decoded from JSON into their typed forms.
func (f *Form) LinkParents() {
	var walk func(items []*Item, parent *Item)
	walk = func(items []*Item, parent *Item) {
		for _, it := range items {
			it.parent = parent
			it.Value = normalizeValue(it, it.Value)
			it.DefaultAnswer = normalizeValue(it, it.DefaultAnswer)
			walk(it.Items, it)
		}
	}
	walk(f.Items, nil)
}

// Walk calls fn for every item in depth-first order.
func (f *Form) Walk(fn func(*Item)) {
	var walk func(items []*Item)
	walk = func(items []*Item) {
		for _, it := range items {
			fn(it)
			walk(it.Items)
		}
	}
	walk(f.Items)
}

// ContainedResource returns the contained resource with the given id.
func (f *Form) ContainedResource(id string) (map[string]any, bool) {
	for _, r := range f.Contained {
		if rid, _ := r["id"].(string); rid == id {
			return r, true
		}
	}
	return nil, false
}

// TerminologyServerFor returns the server declared on the item, its nearest
// ancestor, or the form.
func (f *Form) TerminologyServerFor(item *Item) string {
	for it := item; it != nil; it = it.parent {
		if it.TerminologyServer != "" {
			return it.TerminologyServer
		}
	}
	if f != nil {
		return f.TerminologyServer
	}
	return ""
}

// normalizeValue turns generic JSON values into the typed forms used by the
// matcher: maps become *Answer or *Attachment, numbers on integer items become
// int64.
func normalizeValue(item *Item, v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, 0, len(val))
		for _, e := range val {
			out = append(out, normalizeValue(item, e))
		}
		return out
	case map[string]any:
		if item.DataType == TypeAttachment {
			return attachmentFromMap(val)
		}
		a := &Answer{}
		a.Code, _ = val["code"].(string)
		a.Text, _ = val["text"].(string)
		a.System, _ = val["system"].(string)
		a.NotOnList, _ = val["_notOnList"].(bool)
		if s, ok := val["score"].(float64); ok {
			a.Score = &s
		}
		return a
	case float64:
		if item.DataType == TypeInteger {
			return int64(val)
		}
	}
	return v
}

func attachmentFromMap(m map[string]any) *Attachment {
	a := &Attachment{}
	a.ContentType, _ = m["contentType"].(string)
	a.Data, _ = m["data"].(string)
	a.URL, _ = m["url"].(string)
	a.Title, _ = m["title"].(string)
	a.Language, _ = m["language"].(string)
	a.Hash, _ = m["hash"].(string)
	a.Creation, _ = m["creation"].(string)
	if size, ok := m["size"].(float64); ok {
		a.Size = int64(size)
	}
	return a
}
