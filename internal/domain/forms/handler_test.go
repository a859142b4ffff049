package forms

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/fhir"
	"github.com/ehr/formimport/internal/valueset"
)

const yesNoExpansion = `{"resourceType":"ValueSet","expansion":{"contains":[
	{"system":"http://loinc.org","code":"LA33-6","display":"Yes"},
	{"system":"http://loinc.org","code":"LA32-8","display":"No"}]}}`

func questionnaireDoc(server string) string {
	return `{"resourceType":"Questionnaire","url":"http://example.org/q/smoking",
		"extension":[{"url":"http://hl7.org/fhir/StructureDefinition/preferredTerminologyServer","valueUrl":"` + server + `"}],
		"item":[
			{"linkId":"smoker","type":"choice","answerValueSet":"http://example.org/vs/yesno"},
			{"linkId":"weight","type":"quantity","extension":[
				{"url":"http://hl7.org/fhir/StructureDefinition/questionnaire-unitOption","valueCoding":{"system":"http://unitsofmeasure.org","code":"kg","display":"kg"}}]},
			{"linkId":"age","type":"integer"}
		]}`
}

const responseDoc = `{"resourceType":"QuestionnaireResponse","item":[
	{"linkId":"smoker","answer":[{"valueCoding":{"system":"http://loinc.org","code":"LA33-6"}}]},
	{"linkId":"weight","answer":[{"valueQuantity":{"value":5000,"unit":"g","system":"http://unitsofmeasure.org","code":"g"}}]},
	{"linkId":"age","answer":[{"valueInteger":42}]}
]}`

type testEnv struct {
	e        *echo.Echo
	server   *httptest.Server
	requests *atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/fhir+json")
		if r.URL.Query().Get("url") != "http://example.org/vs/yesno" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"not-found","diagnostics":"unknown"}]}`)
			return
		}
		io.WriteString(w, yesNoExpansion)
	}))
	t.Cleanup(srv.Close)

	cache, err := valueset.NewCache(16, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resolver := valueset.NewResolver(cache, valueset.Options{}, zerolog.Nop())
	svc := NewService(form.NewValueConverter(nil), resolver, cache, zerolog.Nop())

	e := echo.New()
	e.JSONSerializer = fhir.JSONSerializer{}
	e.Validator = fhir.NewRequestValidator()
	e.HTTPErrorHandler = fhir.ErrorHandler(zerolog.Nop())
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"), e.Group("/fhir"))

	return &testEnv{e: e, server: srv, requests: &requests}
}

func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

type resultBody struct {
	ID       string                 `json:"id"`
	Form     *form.Form             `json:"form"`
	Outcome  *fhir.OperationOutcome `json:"outcome"`
	Imported []string               `json:"imported"`
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) resultBody {
	t.Helper()
	var res resultBody
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to decode body: %v\n%s", err, rec.Body.String())
	}
	if res.Form != nil {
		res.Form.LinkParents()
	}
	return res
}

func findItem(f *form.Form, linkID string) *form.Item {
	var found *form.Item
	f.Walk(func(it *form.Item) {
		if found == nil && it.LinkID == linkID {
			found = it
		}
	})
	return found
}

func TestConvertQuestionnaire(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/fhir/Questionnaire/$lforms-convert", questionnaireDoc(env.server.URL))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if res.ID == "" {
		t.Error("expected a result id")
	}
	smoker := findItem(res.Form, "smoker")
	if smoker == nil || smoker.AnswerValueSet == "" || len(smoker.Answers) != 0 {
		t.Errorf("expected an unresolved value set item, got %+v", smoker)
	}
	if env.requests.Load() != 0 {
		t.Errorf("expected no terminology request, got %d", env.requests.Load())
	}
}

func TestConvertQuestionnaire_Expand(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/fhir/Questionnaire/$lforms-convert?expand=true", questionnaireDoc(env.server.URL))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	smoker := findItem(res.Form, "smoker")
	if len(smoker.Answers) != 2 {
		t.Errorf("expected 2 answers, got %d", len(smoker.Answers))
	}
	if res.Outcome != nil {
		t.Errorf("expected no outcome, got %+v", res.Outcome)
	}
}

func TestConvertQuestionnaire_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"wrong resource", `{"resourceType":"Patient"}`},
		{"invalid extension", `{"resourceType":"Questionnaire","item":[{"linkId":"x","type":"string","extension":[
			{"url":"http://hl7.org/fhir/StructureDefinition/questionnaire-unitOption","valueCoding":{"code":"kg"}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/fhir/Questionnaire/$lforms-convert", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			var oo fhir.OperationOutcome
			if err := json.Unmarshal(rec.Body.Bytes(), &oo); err != nil || !oo.HasErrors() {
				t.Errorf("expected an OperationOutcome, got %s", rec.Body.String())
			}
		})
	}
}

func TestMergeResponse(t *testing.T) {
	env := newTestEnv(t)
	body := `{"questionnaire":` + questionnaireDoc(env.server.URL) +
		`,"questionnaireResponse":` + responseDoc + `,"expand":true}`

	rec := env.do(http.MethodPost, "/api/v1/forms/merge", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)

	smoker := findItem(res.Form, "smoker")
	a, ok := smoker.Value.(*form.Answer)
	if !ok || a.Code != "LA33-6" || a.Text != "Yes" {
		t.Errorf("expected the Yes answer from the loaded list, got %+v", smoker.Value)
	}

	weight := findItem(res.Form, "weight")
	if v, ok := weight.Value.(float64); !ok || v != 5 {
		t.Errorf("expected 5 kg, got %v", weight.Value)
	}

	age := findItem(res.Form, "age")
	if age.Value != int64(42) {
		t.Errorf("expected 42, got %v (%T)", age.Value, age.Value)
	}
}

func TestMergeResponse_ConvertedForm(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/fhir/Questionnaire/$lforms-convert", questionnaireDoc(env.server.URL))
	formJSON, err := json.Marshal(decodeResult(t, rec).Form)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := `{"form":` + string(formJSON) + `,"questionnaireResponse":` + responseDoc + `}`
	rec = env.do(http.MethodPost, "/api/v1/forms/merge", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	smoker := findItem(decodeResult(t, rec).Form, "smoker")
	a, ok := smoker.Value.(*form.Answer)
	if !ok || a.Code != "LA33-6" {
		t.Errorf("expected a provisional coded answer, got %+v", smoker.Value)
	}
}

func TestMergeResponse_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing response", `{"form":{"items":[]}}`, http.StatusBadRequest},
		{"missing form and questionnaire", `{"questionnaireResponse":{"resourceType":"QuestionnaireResponse"}}`, http.StatusBadRequest},
		{"malformed body", `{"form":`, http.StatusBadRequest},
		{"wrong response type", `{"form":{"items":[]},"questionnaireResponse":{"resourceType":"Patient"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/api/v1/forms/merge", tt.body)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestExpandForm_ReportsFailures(t *testing.T) {
	env := newTestEnv(t)
	body := `{"form":{"url":"http://example.org/q/1","terminologyServer":"` + env.server.URL + `","items":[
		{"linkId":"a","dataType":"CODING","answerValueSet":"http://example.org/vs/yesno"},
		{"linkId":"b","dataType":"CODING","answerValueSet":"http://example.org/vs/unknown"}]}}`

	rec := env.do(http.MethodPost, "/api/v1/forms/expand", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if len(findItem(res.Form, "a").Answers) != 2 {
		t.Error("expected item a to be resolved")
	}
	b := findItem(res.Form, "b")
	if len(b.MessagesFrom(form.SourceValueSets)) != 1 {
		t.Errorf("expected a loading message on b, got %+v", b.Messages)
	}
	if res.Outcome == nil || len(res.Outcome.Issue) != 1 || res.Outcome.Issue[0].Severity != fhir.IssueSeverityWarning {
		t.Errorf("expected one warning, got %+v", res.Outcome)
	}
}

func TestImportObservations(t *testing.T) {
	env := newTestEnv(t)
	body := `{"form":{"items":[
		{"linkId":"weight","dataType":"QTY","units":[{"name":"kg","code":"kg","system":"http://unitsofmeasure.org","default":true}]},
		{"linkId":"note","dataType":"ST"}]},
		"observations":[
		{"linkId":"weight","observation":{"resourceType":"Observation","id":"o1","code":{},
			"valueQuantity":{"value":72,"unit":"kg","system":"http://unitsofmeasure.org","code":"kg"}}},
		{"linkId":"note","observation":{"resourceType":"Observation","id":"o2","code":{},"valueBoolean":true}}]}`

	rec := env.do(http.MethodPost, "/api/v1/forms/observations", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if len(res.Imported) != 1 || res.Imported[0] != "weight" {
		t.Errorf("expected weight to be imported, got %v", res.Imported)
	}
	if v, ok := findItem(res.Form, "weight").Value.(float64); !ok || v != 72 {
		t.Errorf("expected 72, got %v", findItem(res.Form, "weight").Value)
	}
	if res.Outcome == nil || len(res.Outcome.Issue) != 1 {
		t.Errorf("expected a warning for the note, got %+v", res.Outcome)
	}
}

func TestImportObservations_UnknownItem(t *testing.T) {
	env := newTestEnv(t)
	body := `{"form":{"items":[]},"observations":[{"linkId":"x","observation":{"resourceType":"Observation","code":{}}}]}`
	rec := env.do(http.MethodPost, "/api/v1/forms/observations", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestClearCache(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/fhir/Questionnaire/$lforms-convert?expand=true", questionnaireDoc(env.server.URL))
	env.do(http.MethodPost, "/fhir/Questionnaire/$lforms-convert?expand=true", questionnaireDoc(env.server.URL))
	if env.requests.Load() != 1 {
		t.Fatalf("expected the second conversion to hit the cache, got %d requests", env.requests.Load())
	}

	rec := env.do(http.MethodDelete, "/api/v1/valueset-cache", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	env.do(http.MethodPost, "/fhir/Questionnaire/$lforms-convert?expand=true", questionnaireDoc(env.server.URL))
	if env.requests.Load() != 2 {
		t.Errorf("expected a fresh request after clearing, got %d requests", env.requests.Load())
	}
}
