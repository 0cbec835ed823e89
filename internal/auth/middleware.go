package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/models"
)

// ContextKeyClaims is the key for storing JWT claims in context
const ContextKeyClaims = "claims"

// Middleware is the authentication middleware
type Middleware struct {
	jwtService *JWTService
	enabled    bool
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(cfg config.SecurityConfig) *Middleware {
	return &Middleware{
		jwtService: NewJWTService(cfg),
		enabled:    cfg.AuthEnabled,
	}
}

// RequireAuth is middleware that requires JWT authentication
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.enabled {
			return next(c)
		}

		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
		}

		// Parse Bearer token
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
		}

		claims, err := m.jwtService.ValidateToken(parts[1])
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		c.Set(ContextKeyClaims, claims)
		return next(c)
	}
}

// RequireRole is middleware that requires one of roles. It authenticates
// the request first.
func (m *Middleware) RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return m.RequireAuth(func(c echo.Context) error {
			if !m.enabled {
				return next(c)
			}
			claims, ok := GetClaims(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !claims.HasRole(roles...) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		})
	}
}

// RequireWrite is middleware that requires write permissions (admin or operator role)
func (m *Middleware) RequireWrite(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireRole(models.RoleAdmin, models.RoleOperator)(next)
}

// RequireRead is middleware that requires read permissions (any authenticated caller)
func (m *Middleware) RequireRead(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireAuth(next)
}

// GetClaims extracts JWT claims from Echo context
func GetClaims(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(ContextKeyClaims).(*Claims)
	return claims, ok
}

// Subject returns the authenticated subject, or "anonymous" when
// authentication is disabled.
func Subject(c echo.Context) string {
	if claims, ok := GetClaims(c); ok {
		return claims.Subject
	}
	return "anonymous"
}
