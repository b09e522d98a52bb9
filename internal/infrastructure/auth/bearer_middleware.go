package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"servicegate/internal/domain"
	"servicegate/internal/ports"
)

// BearerMiddleware guards the management surface. It validates the
// Authorization header against this service's own audience and stores
// the caller's identity on the request context. Proxy routes never pass
// through it; each backend validates for itself.
type BearerMiddleware struct {
	validator ports.TokenValidator
	audience  string
}

func NewBearerMiddleware(validator ports.TokenValidator, audience string) *BearerMiddleware {
	return &BearerMiddleware{validator: validator, audience: audience}
}

func (m *BearerMiddleware) Handler(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing authorization token"})
		}
		const scheme = "Bearer "
		if !strings.HasPrefix(authHeader, scheme) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid authorization token"})
		}
		tokenString := strings.TrimSpace(authHeader[len(scheme):])
		if tokenString == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid authorization token"})
		}
		claims, err := m.validator.Validate(tokenString, m.audience)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, domain.ErrInvalidAudience) {
				status = http.StatusForbidden
			}
			return c.JSON(status, map[string]string{"error": err.Error()})
		}
		c.Set("user_id", claims.SubjectID)
		c.Set("user_email", claims.Email)
		return next(c)
	}
}
