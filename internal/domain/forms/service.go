package forms

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/fhir"
	"github.com/ehr/formimport/internal/questionnaire"
	"github.com/ehr/formimport/internal/valueset"
)

var ErrItemNotFound = errors.New("form item not found")

// Service runs the import operations behind the HTTP and CLI surfaces.
type Service struct {
	converter *questionnaire.Converter
	merger    *form.Merger
	values    *form.ValueConverter
	resolver  *valueset.Resolver
	cache     *valueset.Cache
	logger    zerolog.Logger
}

func NewService(values *form.ValueConverter, resolver *valueset.Resolver, cache *valueset.Cache, logger zerolog.Logger) *Service {
	return &Service{
		converter: questionnaire.NewConverter(values, logger),
		merger:    form.NewMerger(values, logger),
		values:    values,
		resolver:  resolver,
		cache:     cache,
		logger:    logger,
	}
}

// Convert turns a Questionnaire document into a form tree, loading its answer
// value sets when expand is set.
func (s *Service) Convert(ctx context.Context, data []byte, expand bool) (*FormResult, error) {
	q, err := questionnaire.Parse(data)
	if err != nil {
		return nil, err
	}
	f, err := s.converter.Convert(q)
	if err != nil {
		return nil, fmt.Errorf("converting questionnaire %s: %w", q.URL, err)
	}
	res := newResult(f)
	if expand {
		s.expand(ctx, res)
	}
	return res, nil
}

// Merge fills the form of req with its QuestionnaireResponse. Value sets are
// loaded after the merge when requested, so provisional coded answers are
// settled against the loaded lists.
func (s *Service) Merge(ctx context.Context, req *MergeRequest) (*FormResult, error) {
	f := req.Form
	if f == nil {
		q, err := questionnaire.Parse(req.Questionnaire)
		if err != nil {
			return nil, err
		}
		if f, err = s.converter.Convert(q); err != nil {
			return nil, fmt.Errorf("converting questionnaire %s: %w", q.URL, err)
		}
	}
	if err := s.merger.MergeResponse(f, req.QuestionnaireResponse); err != nil {
		return nil, err
	}

	res := newResult(f)
	if req.Expand {
		s.expand(ctx, res)
	}
	s.logger.Debug().
		Str("result_id", res.ID.String()).
		Str("questionnaire", f.URL).
		Msg("response merged")
	return res, nil
}

// Expand loads the answer value sets of f.
func (s *Service) Expand(ctx context.Context, f *form.Form) *FormResult {
	f.LinkParents()
	res := newResult(f)
	s.expand(ctx, res)
	return res
}

func (s *Service) expand(ctx context.Context, res *FormResult) {
	err := s.resolver.LoadAnswerValueSets(ctx, res.Form)
	if err == nil {
		return
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		res.warn(fhir.IssueTypeProcessing, e.Error())
	}
}

// ImportObservations assigns observation values to the items they name.
// Observations whose value does not fit the item are reported, not fatal.
func (s *Service) ImportObservations(req *ObservationRequest) (*FormResult, error) {
	f := req.Form
	f.LinkParents()
	byLinkID := make(map[string]*form.Item)
	f.Walk(func(it *form.Item) {
		if _, ok := byLinkID[it.LinkID]; !ok {
			byLinkID[it.LinkID] = it
		}
	})

	res := newResult(f)
	for _, ov := range req.Observations {
		item, ok := byLinkID[ov.LinkID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, ov.LinkID)
		}
		if !s.values.ImportObservationValue(item, *ov.Observation) {
			res.warn(fhir.IssueTypeValue, fmt.Sprintf("observation %s does not fit item %s", ov.Observation.ID, ov.LinkID))
			continue
		}
		res.Imported = append(res.Imported, ov.LinkID)
	}
	return res, nil
}

// ClearCache drops every cached answer list.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clearing value set cache: %w", err)
	}
	s.logger.Info().Msg("value set cache cleared")
	return nil
}
