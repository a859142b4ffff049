package fhir

import (
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	MIMEFHIRJSON = "application/fhir+json"

	// FHIRContentType is the response content type of every FHIR route.
	FHIRContentType = MIMEFHIRJSON + "; charset=utf-8"
)

// ContentNegotiation serves JSON only. The _format query parameter wins over
// the Accept header; XML or unknown formats get 406. Request bodies declared
// as application/fhir+json are bound like plain JSON.
func ContentNegotiation() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if format := c.QueryParam("_format"); format != "" {
				if !isJSONFormat(format) {
					return echo.NewHTTPError(http.StatusNotAcceptable, "unsupported _format "+format+", use "+MIMEFHIRJSON)
				}
			} else if accept := c.Request().Header.Get(echo.HeaderAccept); accept != "" && !acceptsJSON(accept) {
				return echo.NewHTTPError(http.StatusNotAcceptable, "Accept does not include "+MIMEFHIRJSON)
			}

			req := c.Request()
			if isFHIRJSONBody(req.Header.Get(echo.HeaderContentType)) {
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSONCharsetUTF8)
			}
			c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
			return next(c)
		}
	}
}

// normalizeFormat lowercases a format value and restores the "+" that query
// decoding turns into a space.
func normalizeFormat(raw string) string {
	f := strings.TrimSpace(strings.ToLower(raw))
	return strings.ReplaceAll(f, "fhir json", "fhir+json")
}

func isJSONFormat(format string) bool {
	switch normalizeFormat(format) {
	case "json", echo.MIMEApplicationJSON, MIMEFHIRJSON:
		return true
	}
	return false
}

func acceptsJSON(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		switch strings.ToLower(strings.TrimSpace(mediaType)) {
		case MIMEFHIRJSON, echo.MIMEApplicationJSON, "application/*", "*/*":
			return true
		}
	}
	return false
}

func isFHIRJSONBody(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == MIMEFHIRJSON
}
