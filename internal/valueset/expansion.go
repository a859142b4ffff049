package valueset

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/fhir"
)

// decodeExpansion decodes the body of a $expand call. An OperationOutcome,
// or a ValueSet without an expansion, is a failure.
func decodeExpansion(body []byte) (*fhir.ValueSet, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrExpansionFailed, err)
	}

	switch head.ResourceType {
	case "OperationOutcome":
		var outcome fhir.OperationOutcome
		if err := json.Unmarshal(body, &outcome); err != nil {
			return nil, fmt.Errorf("%w: decoding outcome: %w", ErrExpansionFailed, err)
		}
		if outcome.HasErrors() {
			return nil, fmt.Errorf("%w: %s", ErrExpansionFailed, outcome.Summary())
		}
		return nil, fmt.Errorf("%w: no expansion returned", ErrExpansionFailed)
	case "ValueSet":
		var vs fhir.ValueSet
		if err := json.Unmarshal(body, &vs); err != nil {
			return nil, fmt.Errorf("%w: decoding value set: %w", ErrExpansionFailed, err)
		}
		if vs.Expansion == nil {
			return nil, fmt.Errorf("%w: value set %s has no expansion", ErrExpansionFailed, vs.URL)
		}
		return &vs, nil
	default:
		return nil, fmt.Errorf("%w: unexpected resource type %q", ErrExpansionFailed, head.ResourceType)
	}
}

// AnswersFromValueSet turns the expansion of vs into an answer list. Nested
// entries are flattened in document order; abstract entries without a code
// are skipped.
func AnswersFromValueSet(vs *fhir.ValueSet) []*form.Answer {
	if vs == nil || vs.Expansion == nil {
		return nil
	}
	var answers []*form.Answer
	var walk func(entries []fhir.ValueSetContains)
	walk = func(entries []fhir.ValueSetContains) {
		for _, c := range entries {
			if !(c.Abstract && c.Code == "") {
				a := &form.Answer{
					Code:     c.Code,
					Text:     c.Display,
					System:   c.System,
					TextHTML: c.RenderingXHTML(),
				}
				if score, ok := c.Score(); ok {
					a.Score = &score
				}
				answers = append(answers, a)
			}
			walk(c.Contains)
		}
	}
	walk(vs.Expansion.Contains)
	return answers
}

func cloneAnswers(answers []*form.Answer) []*form.Answer {
	if answers == nil {
		return nil
	}
	out := make([]*form.Answer, len(answers))
	for i, a := range answers {
		c := *a
		out[i] = &c
	}
	return out
}
