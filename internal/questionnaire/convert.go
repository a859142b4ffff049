package questionnaire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/fhir"
	"github.com/ehr/formimport/internal/valueset"
)

var (
	ErrNotQuestionnaire = errors.New("not a Questionnaire")
	ErrInvalidExtension = errors.New("invalid extension")
)

// Converter turns Questionnaires into form trees.
type Converter struct {
	values *form.ValueConverter
	logger zerolog.Logger
}

// NewConverter creates a converter that imports initial values with values.
func NewConverter(values *form.ValueConverter, logger zerolog.Logger) *Converter {
	return &Converter{values: values, logger: logger}
}

// Convert builds the form tree of q. A misplaced unit extension aborts the
// conversion with ErrInvalidExtension.
func (c *Converter) Convert(q *Questionnaire) (*form.Form, error) {
	if q == nil || q.ResourceType != "Questionnaire" {
		return nil, ErrNotQuestionnaire
	}

	f := &form.Form{
		ID:        q.ID,
		URL:       q.URL,
		Name:      q.Name,
		Title:     q.Title,
		Contained: q.Contained,
	}
	if len(q.Code) > 0 {
		f.Code = q.Code[0].Code
	}
	var root form.Item
	f.Extension = applyExtensions(&root, q.Extension)
	f.TerminologyServer = root.TerminologyServer

	contained := expandedValueSets(q.Contained)
	for i := range q.Item {
		item, err := c.convertItem(&q.Item[i], contained)
		if err != nil {
			return nil, err
		}
		f.Items = append(f.Items, item)
	}
	f.LinkParents()

	c.logger.Debug().Str("questionnaire", q.URL).Int("items", len(f.Items)).Msg("questionnaire converted")
	return f, nil
}

func (c *Converter) convertItem(qi *Item, contained map[string]*fhir.ValueSet) (*form.Item, error) {
	item := &form.Item{
		LinkID:   qi.LinkID,
		Question: qi.Text,
		Prefix:   qi.Prefix,
	}
	item.Extension = applyExtensions(item, qi.Extension)
	item.DataType, item.AnswerConstraint = dataType(qi)
	if qi.AnswerConstraint != "" {
		item.AnswerConstraint = form.AnswerConstraint(qi.AnswerConstraint)
	}

	processAnswers(item, qi, contained)
	if item.HasAnswerList() && item.AnswerConstraint == "" {
		item.AnswerConstraint = form.OptionsOnly
	}
	item.QuestionCardinality, item.AnswerCardinality = cardinality(item, qi)
	item.Restrictions = restrictions(qi)
	if err := processUnits(item, qi); err != nil {
		return nil, err
	}

	initial := append([]form.TypedValue(nil), qi.Initial...)
	for _, opt := range qi.AnswerOption {
		if opt.InitialSelected {
			initial = append(initial, opt.TypedValue)
		}
	}
	if len(initial) > 0 {
		c.values.ProcessValues(item, initial, true)
	}

	for i := range qi.Item {
		child, err := c.convertItem(&qi.Item[i], contained)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", qi.LinkID, err)
		}
		item.Items = append(item.Items, child)
	}
	return item, nil
}

// dataType maps the Questionnaire item type. choice and open-choice take the
// type of their answer options.
func dataType(qi *Item) (form.DataType, form.AnswerConstraint) {
	switch qi.Type {
	case "group":
		return form.TypeSection, ""
	case "display":
		return form.TypeTitle, ""
	case "boolean":
		return form.TypeBoolean, ""
	case "decimal":
		return form.TypeReal, ""
	case "integer":
		return form.TypeInteger, ""
	case "quantity":
		return form.TypeQuantity, ""
	case "date":
		return form.TypeDate, ""
	case "dateTime":
		return form.TypeDateTime, ""
	case "time":
		return form.TypeTime, ""
	case "text":
		return form.TypeText, ""
	case "url":
		return form.TypeURL, ""
	case "attachment":
		return form.TypeAttachment, ""
	case "reference":
		return form.TypeReference, ""
	case "coding":
		return form.TypeCoding, ""
	case "choice":
		return optionType(qi.AnswerOption), form.OptionsOnly
	case "open-choice":
		return optionType(qi.AnswerOption), form.OptionsOrString
	default:
		return form.TypeString, ""
	}
}

func optionType(opts []AnswerOption) form.DataType {
	for _, o := range opts {
		switch {
		case o.ValueString != nil:
			return form.TypeString
		case o.ValueInteger != nil:
			return form.TypeInteger
		case o.ValueDate != nil:
			return form.TypeDate
		case o.ValueTime != nil:
			return form.TypeTime
		case o.ValueCoding != nil:
			return form.TypeCoding
		}
	}
	return form.TypeCoding
}

// cardinality derives question and answer cardinality. repeats on a list
// question lets the answer repeat; on any other item the item itself repeats.
func cardinality(item *form.Item, qi *Item) (*form.Cardinality, *form.Cardinality) {
	qc := &form.Cardinality{Min: "1", Max: "1"}
	ac := &form.Cardinality{Min: "0", Max: "1"}
	if qi.Required {
		ac.Min = "1"
	}

	if qi.Repeats {
		if !item.DataType.Structural() && (item.HasAnswerList() || item.DataType == form.TypeCoding) {
			ac.Max = "*"
		} else {
			qc.Max = "*"
		}
	}
	if ext := findExtension(qi.Extension, URLAnswerRepeats); ext != nil && ext.ValueBoolean != nil && *ext.ValueBoolean {
		ac.Max = "*"
	}
	if ext := findExtension(qi.Extension, URLMinOccurs); ext != nil {
		if n, ok := intValue(ext); ok {
			qc.Min = strconv.Itoa(n)
		}
	}
	if ext := findExtension(qi.Extension, URLMaxOccurs); ext != nil {
		if n, ok := intValue(ext); ok {
			qc.Max = strconv.Itoa(n)
		}
	}
	return qc, ac
}

// restrictions collects maxLength and the restriction extensions. min and max
// values become inclusive bounds whatever the source said.
func restrictions(qi *Item) *form.Restrictions {
	r := &form.Restrictions{}
	set := false
	if qi.MaxLength != nil {
		v := *qi.MaxLength
		r.MaxLength = &v
		set = true
	}
	if ext := findExtension(qi.Extension, URLMinValue); ext != nil {
		if v := restrictionValue(ext); v != nil {
			r.MinInclusive = v
			set = true
		}
	}
	if ext := findExtension(qi.Extension, URLMaxValue); ext != nil {
		if v := restrictionValue(ext); v != nil {
			r.MaxInclusive = v
			set = true
		}
	}
	if ext := findExtension(qi.Extension, URLMinLength); ext != nil {
		if n, ok := intValue(ext); ok {
			r.MinLength = &n
			set = true
		}
	}
	if ext := findExtension(qi.Extension, URLRegex); ext != nil && ext.ValueString != nil {
		r.Pattern = *ext.ValueString
		set = true
	}
	if ext := findExtension(qi.Extension, URLMaxDecimalPlaces); ext != nil {
		if n, ok := intValue(ext); ok {
			r.MaxDecimalPlaces = &n
			set = true
		}
	}
	if !set {
		return nil
	}
	return r
}

// processUnits builds the unit list. Exactly one unit ends up default: the
// unit of the first initial quantity, the questionnaire-unit unit, or else
// the first option.
func processUnits(item *form.Item, qi *Item) error {
	var (
		units []*form.Unit
		def   *form.Unit
	)

	if opts := findExtensions(qi.Extension, URLUnitOption); len(opts) > 0 {
		if qi.Type != "quantity" {
			return fmt.Errorf("%w: %s can only be used with type quantity; item %s is of type %s",
				ErrInvalidExtension, URLUnitOption, qi.LinkID, qi.Type)
		}
		for _, o := range opts {
			if o.ValueCoding == nil {
				continue
			}
			units = append(units, &form.Unit{
				Name:   o.ValueCoding.Display,
				Code:   o.ValueCoding.Code,
				System: o.ValueCoding.System,
			})
		}
	}

	if ext := findExtension(qi.Extension, URLUnit); ext != nil {
		if qi.Type != "integer" && qi.Type != "decimal" {
			return fmt.Errorf("%w: %s can only be used with types integer or decimal; item %s is of type %s",
				ErrInvalidExtension, URLUnit, qi.LinkID, qi.Type)
		}
		if ext.ValueCoding != nil {
			def = &form.Unit{
				Name:    ext.ValueCoding.Display,
				Code:    ext.ValueCoding.Code,
				System:  ext.ValueCoding.System,
				Default: true,
			}
			units = append(units, def)
		}
	}

	if qi.Type == "quantity" {
		if q := firstInitialQuantity(qi); q != nil && q.Unit != "" {
			for _, u := range units {
				if u.Name == q.Unit {
					def = u
					break
				}
			}
			if def == nil {
				def = &form.Unit{Name: q.Unit, Code: q.Code, System: q.System}
				units = append(units, def)
			}
			def.Default = true
		}
	}

	if len(units) == 0 {
		return nil
	}
	if def == nil {
		units[0].Default = true
	}
	item.Units = units
	return nil
}

func firstInitialQuantity(qi *Item) *form.Quantity {
	for _, v := range qi.Initial {
		if v.ValueQuantity != nil {
			return v.ValueQuantity
		}
	}
	return nil
}

// processAnswers sets the answer list from answerOption, or from a contained
// value set that already carries an expansion. Other value sets are left for
// the resolver.
func processAnswers(item *form.Item, qi *Item, contained map[string]*fhir.ValueSet) {
	for _, opt := range qi.AnswerOption {
		a := optionAnswer(opt)
		if a == nil {
			continue
		}
		a.Score = optionScore(opt.Extension)
		item.Answers = append(item.Answers, a)
	}

	if qi.AnswerValueSet == "" {
		return
	}
	if id, ok := strings.CutPrefix(qi.AnswerValueSet, "#"); ok {
		if vs, ok := contained[id]; ok {
			item.Answers = valueset.AnswersFromValueSet(vs)
			return
		}
	}
	item.AnswerValueSet = qi.AnswerValueSet
}

func optionAnswer(opt AnswerOption) *form.Answer {
	switch {
	case opt.ValueCoding != nil:
		return &form.Answer{
			Code:   opt.ValueCoding.Code,
			Text:   opt.ValueCoding.Display,
			System: opt.ValueCoding.System,
		}
	case opt.ValueString != nil:
		return &form.Answer{Text: *opt.ValueString}
	case opt.ValueInteger != nil:
		return &form.Answer{Text: strconv.FormatInt(*opt.ValueInteger, 10)}
	case opt.ValueDate != nil:
		return &form.Answer{Text: *opt.ValueDate}
	case opt.ValueTime != nil:
		return &form.Answer{Text: *opt.ValueTime}
	}
	return nil
}

// expandedValueSets indexes the contained value sets that carry an expansion.
func expandedValueSets(contained []map[string]any) map[string]*fhir.ValueSet {
	out := make(map[string]*fhir.ValueSet)
	for _, res := range contained {
		if res["resourceType"] != "ValueSet" {
			continue
		}
		if _, ok := res["expansion"]; !ok {
			continue
		}
		data, err := json.Marshal(res)
		if err != nil {
			continue
		}
		var vs fhir.ValueSet
		if err := json.Unmarshal(data, &vs); err != nil || vs.ID == "" || vs.Expansion == nil {
			continue
		}
		out[vs.ID] = &vs
	}
	return out
}
