package forms

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/formimport/internal/form"
	"github.com/ehr/formimport/internal/platform/fhir"
	"github.com/ehr/formimport/internal/questionnaire"
)

const maxDocumentSize = 16 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the form routes. admin guards cache administration.
func (h *Handler) RegisterRoutes(api *echo.Group, fhirGroup *echo.Group, admin ...echo.MiddlewareFunc) {
	fhirGroup.POST("/Questionnaire/$lforms-convert", h.ConvertQuestionnaire)

	api.POST("/forms/merge", h.MergeResponse)
	api.POST("/forms/expand", h.ExpandForm)
	api.POST("/forms/observations", h.ImportObservations)
	api.DELETE("/valueset-cache", h.ClearCache, admin...)
}

func (h *Handler) ConvertQuestionnaire(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxDocumentSize))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome(err.Error()))
	}
	expand, _ := strconv.ParseBool(c.QueryParam("expand"))

	res, err := h.svc.Convert(c.Request().Context(), data, expand)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) MergeResponse(c echo.Context) error {
	var req MergeRequest
	if status, oo := bindAndValidate(c, &req); oo != nil {
		return c.JSON(status, oo)
	}
	res, err := h.svc.Merge(c.Request().Context(), &req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ExpandForm(c echo.Context) error {
	var req ExpandRequest
	if status, oo := bindAndValidate(c, &req); oo != nil {
		return c.JSON(status, oo)
	}
	return c.JSON(http.StatusOK, h.svc.Expand(c.Request().Context(), req.Form))
}

func (h *Handler) ImportObservations(c echo.Context) error {
	var req ObservationRequest
	if status, oo := bindAndValidate(c, &req); oo != nil {
		return c.JSON(status, oo)
	}
	res, err := h.svc.ImportObservations(&req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ClearCache(c echo.Context) error {
	if err := h.svc.ClearCache(c.Request().Context()); err != nil {
		return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
	}
	return c.NoContent(http.StatusNoContent)
}

// bindAndValidate decodes and validates req. A non-nil outcome is the error
// response to send with status.
func bindAndValidate(c echo.Context, req interface{}) (int, *fhir.OperationOutcome) {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he.Code, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, errMessage(he))
		}
		return http.StatusBadRequest, fhir.ErrorOutcome(err.Error())
	}
	if err := c.Validate(req); err != nil {
		if oo := fhir.ValidationErrorsOutcome(err); oo != nil {
			return http.StatusBadRequest, oo
		}
		return http.StatusBadRequest, fhir.ErrorOutcome(err.Error())
	}
	return 0, nil
}

func errMessage(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	return http.StatusText(he.Code)
}

func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, questionnaire.ErrNotQuestionnaire),
		errors.Is(err, questionnaire.ErrInvalidExtension),
		errors.Is(err, form.ErrInvalidResponse):
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	case errors.Is(err, ErrItemNotFound):
		return c.JSON(http.StatusUnprocessableEntity, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error()))
	}
	return c.JSON(http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error()))
}
