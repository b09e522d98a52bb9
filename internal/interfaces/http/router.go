package http

import (
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Middleware struct {
	Auth          echo.MiddlewareFunc
	XRay          echo.MiddlewareFunc
	RequestLogger echo.MiddlewareFunc
}

type Handlers struct {
	Resources   *ResourcesHandler
	Permissions *PermissionsHandler
	Shares      *SharesHandler
	Pairing     *PairingHandler
	Proxy       *ProxyHandler
	Streaming   *StreamingRoutes
}

// NewMainRouter wires the full surface. Order matters: the fixed
// streaming routes register before the dynamic proxy route, and the
// proxy routes stay outside the auth middleware because the gateway
// never validates tokens on the forwarding path.
func NewMainRouter(h Handlers, m Middleware) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if m.RequestLogger != nil {
		e.Use(m.RequestLogger)
	}
	if m.XRay != nil {
		e.Use(m.XRay)
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(stdhttp.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if h.Streaming != nil {
		h.Streaming.Register(e)
	}
	if h.Proxy != nil {
		e.Any("/api/services/:service/proxy/*", h.Proxy.Handle)
	}

	api := e.Group("")
	if m.Auth != nil {
		api.Use(m.Auth)
	}
	api.POST("/resources", h.Resources.Create)
	api.GET("/resources/:id", h.Resources.Get)
	api.DELETE("/resources/:id", h.Resources.Delete)
	api.POST("/resources/:id/permissions", h.Permissions.Grant)
	api.DELETE("/resources/:id/permissions/:principal_id", h.Permissions.Revoke)
	api.GET("/resources/:id/permissions/:principal_id/check", h.Permissions.Check)
	api.POST("/resources/:id/shares", h.Shares.Create)
	api.POST("/resources/:id/shares/resolve", h.Shares.Resolve)
	api.POST("/pairing", h.Pairing.Create)
	return e
}
