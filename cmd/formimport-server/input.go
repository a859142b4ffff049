package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/ehr/formimport/internal/domain/forms"
	"github.com/ehr/formimport/internal/form"
)

// readDocument reads a FHIR resource from path as JSON. YAML files, chosen by
// extension, are decoded and re-encoded as JSON.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		out, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return out, nil
	}
	return data, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("empty document")
	}
	return json.Marshal(doc)
}

func loadMergeRequest(questionnairePath, responsePath string) (*forms.MergeRequest, error) {
	q, err := readDocument(questionnairePath)
	if err != nil {
		return nil, err
	}
	r, err := readDocument(responsePath)
	if err != nil {
		return nil, err
	}

	var qr form.QuestionnaireResponse
	if err := json.Unmarshal(r, &qr); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", responsePath, err)
	}
	return &forms.MergeRequest{Questionnaire: q, QuestionnaireResponse: &qr}, nil
}

func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out = append(bytes.TrimSpace(out), '\n')
	_, err = w.Write(out)
	return err
}
