package forms

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/fhir"
)

// MergeRequest carries a response and the form it fills in, given either as
// a Questionnaire or as an already converted form tree.
type MergeRequest struct {
	Questionnaire         json.RawMessage             `json:"questionnaire,omitempty" validate:"required_without=Form"`
	Form                  *form.Form                  `json:"form,omitempty" validate:"required_without=Questionnaire"`
	QuestionnaireResponse *form.QuestionnaireResponse `json:"questionnaireResponse" validate:"required"`
	Expand                bool                        `json:"expand,omitempty"`
}

// ExpandRequest asks for the answer value sets of a form to be loaded.
type ExpandRequest struct {
	Form *form.Form `json:"form" validate:"required"`
}

// ObservationValue pairs an Observation with the item it prefills.
type ObservationValue struct {
	LinkID      string            `json:"linkId" validate:"required"`
	Observation *form.Observation `json:"observation" validate:"required"`
}

// ObservationRequest prefills form items from Observations.
type ObservationRequest struct {
	Form         *form.Form         `json:"form" validate:"required"`
	Observations []ObservationValue `json:"observations" validate:"required,min=1,dive"`
}

// FormResult is the form tree returned by every operation. Outcome lists the
// problems that did not stop the operation, such as value sets that failed
// to load.
type FormResult struct {
	ID      uuid.UUID              `json:"id"`
	Form    *form.Form             `json:"form"`
	Outcome *fhir.OperationOutcome `json:"outcome,omitempty"`
	// Imported holds the linkIds that received an observation value.
	Imported []string `json:"imported,omitempty"`
}

func newResult(f *form.Form) *FormResult {
	return &FormResult{ID: uuid.New(), Form: f}
}

// warn records a non-fatal problem on the result.
func (r *FormResult) warn(code, diagnostics string) {
	if r.Outcome == nil {
		r.Outcome = fhir.NewOutcomeBuilder().Build()
	}
	r.Outcome.Issue = append(r.Outcome.Issue, fhir.OperationOutcomeIssue{
		Severity:    fhir.IssueSeverityWarning,
		Code:        code,
		Diagnostics: diagnostics,
	})
}
