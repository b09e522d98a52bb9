package http

import (
	"fmt"
	stdhttp "net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"servicegate/internal/ports"
)

// StreamRoute pins a path prefix to a fixed backend. Requests matching
// it never touch the dynamic resolver: one network hop for persistent
// low-latency connections such as real-time audio.
type StreamRoute struct {
	Prefix string
	Target *url.URL
}

// ParseStreamRoutes reads the static table from its configuration form:
// "prefix=url,prefix=url", e.g. "/ws/audio=http://audio-internal:9090".
func ParseStreamRoutes(spec string) ([]StreamRoute, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}
	var routes []StreamRoute
	for _, pair := range strings.Split(spec, ",") {
		prefix, rawURL, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("invalid stream route %q", pair)
		}
		target, err := url.Parse(rawURL)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid stream route target %q", rawURL)
		}
		routes = append(routes, StreamRoute{Prefix: strings.TrimSuffix(prefix, "/"), Target: target})
	}
	return routes, nil
}

type StreamingRoutes struct {
	routes []StreamRoute
	logger ports.Logger
}

func NewStreamingRoutes(routes []StreamRoute, logger ports.Logger) *StreamingRoutes {
	return &StreamingRoutes{routes: routes, logger: logger}
}

// Register installs the fixed routes. No per-request timeout applies;
// cancellation follows the client connection.
func (s *StreamingRoutes) Register(e *echo.Echo) {
	for _, route := range s.routes {
		handler := echo.WrapHandler(s.newFixedProxy(route))
		e.Any(route.Prefix, handler)
		e.Any(route.Prefix+"/*", handler)
	}
}

func (s *StreamingRoutes) newFixedProxy(route StreamRoute) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(route.Target)
			pr.Out.Host = route.Target.Host
		},
		FlushInterval: -1,
		ErrorHandler: func(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
			s.logger.Error(r.Context(), "stream forward failed",
				"prefix", route.Prefix, "target", route.Target.Host, "error", err)
			writeProxyError(w, stdhttp.StatusBadGateway, "upstream unreachable")
		},
	}
}
