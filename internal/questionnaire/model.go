package questionnaire

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/ehr/formimport/internal/form"
)

// Questionnaire is the subset of a FHIR Questionnaire read by the converter.
type Questionnaire struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id,omitempty"`
	URL          string           `json:"url,omitempty"`
	Name         string           `json:"name,omitempty"`
	Title        string           `json:"title,omitempty"`
	Status       string           `json:"status,omitempty"`
	Code         []form.Coding    `json:"code,omitempty"`
	Contained    []map[string]any `json:"contained,omitempty"`
	Extension    []form.Extension `json:"extension,omitempty"`
	Item         []Item           `json:"item,omitempty"`
}

// Item is a Questionnaire item: group, display or question.
type Item struct {
	LinkID           string            `json:"linkId"`
	Text             string            `json:"text,omitempty"`
	Prefix           string            `json:"prefix,omitempty"`
	Type             string            `json:"type"`
	Required         bool              `json:"required,omitempty"`
	Repeats          bool              `json:"repeats,omitempty"`
	ReadOnly         bool              `json:"readOnly,omitempty"`
	MaxLength        *int              `json:"maxLength,omitempty"`
	AnswerConstraint string            `json:"answerConstraint,omitempty"`
	AnswerValueSet   string            `json:"answerValueSet,omitempty"`
	AnswerOption     []AnswerOption    `json:"answerOption,omitempty"`
	Initial          []form.TypedValue `json:"initial,omitempty"`
	Code             []form.Coding     `json:"code,omitempty"`
	Extension        []form.Extension  `json:"extension,omitempty"`
	Item             []Item            `json:"item,omitempty"`
}

// AnswerOption is a permitted answer of a question.
type AnswerOption struct {
	form.TypedValue
	InitialSelected bool             `json:"initialSelected,omitempty"`
	Extension       []form.Extension `json:"extension,omitempty"`
}

// Parse decodes a Questionnaire document.
func Parse(data []byte) (*Questionnaire, error) {
	var q Questionnaire
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotQuestionnaire, err)
	}
	if q.ResourceType != "Questionnaire" {
		return nil, fmt.Errorf("%w: resourceType %q", ErrNotQuestionnaire, q.ResourceType)
	}
	return &q, nil
}

func findExtension(exts []form.Extension, url string) *form.Extension {
	for i := range exts {
		if exts[i].URL == url {
			return &exts[i]
		}
	}
	return nil
}

func findExtensions(exts []form.Extension, url string) []form.Extension {
	var out []form.Extension
	for _, e := range exts {
		if e.URL == url {
			out = append(out, e)
		}
	}
	return out
}
