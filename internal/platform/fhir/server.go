package fhir

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// JSONSerializer encodes echo request and response bodies with goccy/go-json.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err)).SetInternal(err)
	}
	return nil
}

// RequestValidator plugs validator/v10 into echo's Validate hook.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// ValidationErrorsOutcome turns validation failures into one issue per field.
// It returns nil when err is not a validator error.
func ValidationErrorsOutcome(err error) *OperationOutcome {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	b := NewOutcomeBuilder()
	for _, fe := range verrs {
		b.AddIssueWithLocation(IssueSeverityError, IssueTypeRequired,
			fmt.Sprintf("%s: failed %q validation", fe.Field(), fe.Tag()), fe.Namespace())
	}
	return b.Build()
}

// ErrorHandler renders every error reaching echo as an OperationOutcome.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		outcome := InternalErrorOutcome("internal server error")

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg := fmt.Sprint(he.Message)
			switch {
			case status == http.StatusNotFound:
				outcome = NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, msg)
			case status == http.StatusUnauthorized:
				outcome = NewOperationOutcome(IssueSeverityError, IssueTypeLogin, msg)
			case status == http.StatusForbidden:
				outcome = NewOperationOutcome(IssueSeverityError, IssueTypeSecurity, msg)
			case status == http.StatusTooManyRequests:
				outcome = NewOperationOutcome(IssueSeverityError, IssueTypeThrottled, msg)
			case status < http.StatusInternalServerError:
				outcome = NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, msg)
			default:
				outcome = InternalErrorOutcome(msg)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, outcome)
		}
		if err != nil {
			logger.Error().Err(err).Msg("writing error response")
		}
	}
}
