package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/chainmgr/models"
)

// ValidateContentType rejects request bodies that are not JSON.
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch c.Request().Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			return next(c)
		}
		if c.Request().ContentLength == 0 {
			return next(c)
		}

		contentType := c.Request().Header.Get(echo.HeaderContentType)
		if !strings.HasPrefix(contentType, echo.MIMEApplicationJSON) {
			return BadRequestError(
				"Invalid Content-Type",
				"Content-Type must be 'application/json'. Got: "+contentType,
			)
		}
		return next(c)
	}
}

// ValidateAcceptHeader ensures that clients can accept JSON responses
func ValidateAcceptHeader(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		accept := c.Request().Header.Get(echo.HeaderAccept)
		if accept == "" {
			return next(c)
		}

		for _, ok := range []string{"application/json", "*/*", "application/*", "text/plain"} {
			if strings.Contains(accept, ok) {
				return next(c)
			}
		}
		return BadRequestError(
			"Invalid Accept header",
			"API only returns JSON. Accept header must include 'application/json' or '*/*'. Got: "+accept,
		)
	}
}

// ValidateNodeID checks the :nodeId path parameter.
func ValidateNodeID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("nodeId")
		if id == "" {
			return next(c)
		}
		if err := validate.Var(id, "hexadecimal,max=256"); err != nil {
			return BadRequestError("Invalid node ID", "node ID must be a hex string of at most 256 characters")
		}
		return next(c)
	}
}

// ValidateChainName checks the :name path parameter.
func ValidateChainName(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := c.Param("name")
		if name == "" {
			return next(c)
		}
		if strings.ContainsAny(name, " /\\") || len(name) > 128 {
			return BadRequestError("Invalid chain name", "chain name must not contain spaces or slashes and must not exceed 128 characters")
		}
		return next(c)
	}
}

// ValidateQueryParams validates the list query parameters.
func ValidateQueryParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		for _, key := range []string{"limit", "offset"} {
			if v := c.QueryParam(key); v != "" {
				if _, err := strconv.Atoi(v); err != nil {
					return BadRequestError("Invalid "+key+" parameter", key+" must be an integer. Got: "+v)
				}
			}
		}

		if status := c.QueryParam("status"); status != "" {
			if _, err := models.ParseFrontStatus(status); err != nil {
				return BadRequestError("Invalid status parameter", err.Error())
			}
		}
		return next(c)
	}
}

// SecurityHeaders middleware adds security headers to responses
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return next(c)
	}
}
