package fhir

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func runNegotiation(t *testing.T, target string, header http.Header, body string) (*httptest.ResponseRecorder, sample, error) {
	t.Helper()
	e := newTestEcho()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got sample
	err := ContentNegotiation()(func(c echo.Context) error {
		if body != "" {
			if err := c.Bind(&got); err != nil {
				return err
			}
		}
		return c.JSON(http.StatusOK, got)
	})(c)
	return rec, got, err
}

func TestContentNegotiation_Accepts(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
	}{
		{"no preference", "/fhir/x", ""},
		{"format json", "/fhir/x?_format=json", ""},
		{"format fhir json decoded as space", "/fhir/x?_format=application/fhir+json", ""},
		{"accept fhir json", "/fhir/x", "application/fhir+json"},
		{"accept with quality", "/fhir/x", "text/html;q=0.9, application/json;q=0.8"},
		{"accept anything", "/fhir/x", "*/*"},
		{"format wins over accept", "/fhir/x?_format=json", "application/fhir+xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.accept != "" {
				h.Set(echo.HeaderAccept, tt.accept)
			}
			rec, _, err := runNegotiation(t, tt.target, h, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ct := rec.Header().Get(echo.HeaderContentType); ct != FHIRContentType {
				t.Errorf("expected Content-Type %q, got %q", FHIRContentType, ct)
			}
		})
	}
}

func TestContentNegotiation_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
	}{
		{"format xml", "/fhir/x?_format=xml", ""},
		{"format unknown", "/fhir/x?_format=turtle", ""},
		{"accept xml only", "/fhir/x", "application/fhir+xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.accept != "" {
				h.Set(echo.HeaderAccept, tt.accept)
			}
			_, _, err := runNegotiation(t, tt.target, h, "")
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != http.StatusNotAcceptable {
				t.Errorf("expected 406, got %v", err)
			}
		})
	}
}

func TestContentNegotiation_BindsFHIRJSONBody(t *testing.T) {
	h := http.Header{}
	h.Set(echo.HeaderContentType, "application/fhir+json; charset=utf-8")

	_, got, err := runNegotiation(t, "/api/v1/x", h, `{"linkId":"q1","count":3}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.LinkID != "q1" || got.Count != 3 {
		t.Errorf("unexpected value %+v", got)
	}
}
