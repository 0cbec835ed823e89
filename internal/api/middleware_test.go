package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func runMiddleware(mw echo.MiddlewareFunc, c echo.Context) error {
	return mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})(c)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		wantErr     bool
	}{
		{"POST json", http.MethodPost, "application/json", `{"value":"v2.7.2"}`, false},
		{"POST json with charset", http.MethodPost, "application/json; charset=utf-8", `{}`, false},
		{"POST text", http.MethodPost, "text/plain", "v2.7.2", true},
		{"POST without body", http.MethodPost, "", "", false},
		{"DELETE ignores content type", http.MethodDelete, "text/html", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set(echo.HeaderContentType, tt.contentType)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			err := runMiddleware(ValidateContentType, c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContentType() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptHeader(t *testing.T) {
	tests := []struct {
		accept  string
		wantErr bool
	}{
		{"", false},
		{"application/json", false},
		{"*/*", false},
		{"text/html", true},
	}

	for _, tt := range tests {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAccept, tt.accept)
		c := e.NewContext(req, httptest.NewRecorder())

		err := runMiddleware(ValidateAcceptHeader, c)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateAcceptHeader(%q) error = %v, wantErr %v", tt.accept, err, tt.wantErr)
		}
	}
}

func TestValidateNodeID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"hex id", "a1b2c3d4", false},
		{"empty skips", "", false},
		{"not hex", "node-1", true},
		{"too long", strings.Repeat("a", 300), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
			c.SetParamNames("nodeId")
			c.SetParamValues(tt.id)

			err := runMiddleware(ValidateNodeID, c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNodeID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChainName(t *testing.T) {
	for name, wantErr := range map[string]bool{
		"chainA":                 false,
		"chain A":                true,
		strings.Repeat("c", 200): true,
	} {
		e := echo.New()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.SetParamNames("name")
		c.SetParamValues(name)

		err := runMiddleware(ValidateChainName, c)
		if (err != nil) != wantErr {
			t.Errorf("ValidateChainName(%q) error = %v, wantErr %v", name, err, wantErr)
		}
	}
}

func TestValidateQueryParams(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"no params", "", false},
		{"front status", "status=running", false},
		{"upper case status", "status=STOPPED", false},
		{"unknown status", "status=paused", true},
		{"numeric paging", "limit=50&offset=10", false},
		{"non numeric limit", "limit=ten", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			c := e.NewContext(req, httptest.NewRecorder())

			err := runMiddleware(ValidateQueryParams, c)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQueryParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	if err := runMiddleware(SecurityHeaders, c); err != nil {
		t.Fatalf("SecurityHeaders() error = %v", err)
	}

	headers := c.Response().Header()
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := headers.Get(header); got != want {
			t.Errorf("SecurityHeaders() %s = %v, want %v", header, got, want)
		}
	}
}
