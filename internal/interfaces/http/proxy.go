package http

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"net/http/httputil"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"servicegate/internal/domain"
	"servicegate/internal/ports"
)

// DefaultProxyTimeout bounds a forwarded request. Upgraded connections
// are exempt; their lifetime follows the client connection.
const DefaultProxyTimeout = 30 * time.Second

// hopHeaders per RFC 7230 §6.1; stripped in both directions in addition
// to anything named by the Connection header.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// defaultTokenPathSuffixes is the allow-listed class of paths where the
// client cannot set headers (inline media elements). Only there may a
// `token` query parameter stand in for the Authorization header.
var defaultTokenPathSuffixes = []string{
	".mp3", ".wav", ".ogg", ".opus", ".m4a", ".flac",
	".mp4", ".webm", ".mkv",
	".jpg", ".jpeg", ".png", ".gif", ".webp",
}

// ProxyHandler forwards /api/services/:service/proxy/* to the endpoint
// the resolver names. It performs no token validation and no
// authorization decision; each backend validates for itself.
type ProxyHandler struct {
	resolver      ports.EndpointResolver
	logger        ports.Logger
	timeout       time.Duration
	transport     stdhttp.RoundTripper
	tokenSuffixes []string
}

func NewProxyHandler(resolver ports.EndpointResolver, logger ports.Logger, timeout time.Duration, tokenSuffixes []string) *ProxyHandler {
	if timeout <= 0 {
		timeout = DefaultProxyTimeout
	}
	if tokenSuffixes == nil {
		tokenSuffixes = defaultTokenPathSuffixes
	}
	return &ProxyHandler{
		resolver:      resolver,
		logger:        logger,
		timeout:       timeout,
		transport:     stdhttp.DefaultTransport,
		tokenSuffixes: tokenSuffixes,
	}
}

func (h *ProxyHandler) Handle(c echo.Context) error {
	service := c.Param("service")
	subpath := c.Param("*")
	started := time.Now()

	ep, err := h.resolver.Resolve(service)
	if err != nil {
		proxyRequestsTotal.WithLabelValues(service, "404").Inc()
		return c.JSON(stdhttp.StatusNotFound, map[string]string{"error": "unknown service"})
	}
	targetHost := net.JoinHostPort(ep.Address, strconv.Itoa(ep.Port))

	req := c.Request()
	h.extractQueryToken(req)

	// Once a connection upgrades it is governed by connection lifecycle,
	// not the per-request deadline.
	if !isUpgradeRequest(req) {
		ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	status := "200"
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = ep.Scheme
			pr.Out.URL.Host = targetHost
			pr.Out.URL.Path = "/" + strings.TrimPrefix(subpath, "/")
			pr.Out.URL.RawPath = ""
			pr.Out.Host = targetHost
			// Allow-all-minus-hop-by-hop, applied explicitly rather than
			// trusting the default pass-through. Upgrade negotiation
			// headers are hop-by-hop too, so they are re-set afterwards
			// or the handshake never reaches the backend.
			pr.Out.Header = forwardHeaders(pr.In.Header)
			if upType := upgradeType(pr.In.Header); upType != "" {
				pr.Out.Header.Set("Connection", "Upgrade")
				pr.Out.Header.Set("Upgrade", upType)
			}
		},
		Transport:     h.transport,
		FlushInterval: -1,
		ModifyResponse: func(resp *stdhttp.Response) error {
			status = strconv.Itoa(resp.StatusCode)
			// A 101 keeps its Connection/Upgrade headers so the tunnel
			// can complete.
			if resp.StatusCode != stdhttp.StatusSwitchingProtocols {
				stripHopHeaders(resp.Header)
			}
			return nil
		},
		ErrorHandler: func(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
			// Internal addresses go to the log, never the response body.
			h.logger.Error(r.Context(), "proxy forward failed",
				"service", service, "target", targetHost, "error", err)
			if errors.Is(err, context.Canceled) {
				status = "499"
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				status = "504"
				writeProxyError(w, stdhttp.StatusGatewayTimeout, domain.ErrUpstreamTimeout.Error())
				return
			}
			status = "502"
			writeProxyError(w, stdhttp.StatusBadGateway, domain.ErrUnreachable.Error())
		},
	}
	proxy.ServeHTTP(c.Response(), req)
	proxyRequestsTotal.WithLabelValues(service, status).Inc()
	proxyDuration.WithLabelValues(service).Observe(time.Since(started).Seconds())
	return nil
}

// extractQueryToken synthesizes an Authorization header from the `token`
// query parameter for the allow-listed media paths and strips the token
// from the forwarded query. This is a convenience for clients that
// cannot set headers, not an authorization step.
func (h *ProxyHandler) extractQueryToken(req *stdhttp.Request) {
	if req.Header.Get("Authorization") != "" {
		return
	}
	if !h.tokenPathAllowed(req.URL.Path) {
		return
	}
	query := req.URL.Query()
	token := query.Get("token")
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
	query.Del("token")
	req.URL.RawQuery = query.Encode()
}

func (h *ProxyHandler) tokenPathAllowed(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range h.tokenSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func isUpgradeRequest(req *stdhttp.Request) bool {
	return upgradeType(req.Header) != ""
}

// upgradeType returns the protocol named by the Upgrade header when the
// Connection header asks for an upgrade, else "".
func upgradeType(header stdhttp.Header) string {
	for _, token := range strings.Split(header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return header.Get("Upgrade")
		}
	}
	return ""
}

// forwardHeaders clones every inbound header except hop-by-hop ones and
// those named by the Connection header.
func forwardHeaders(in stdhttp.Header) stdhttp.Header {
	out := in.Clone()
	stripHopHeaders(out)
	return out
}

func stripHopHeaders(header stdhttp.Header) {
	for _, name := range strings.Split(header.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			header.Del(name)
		}
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
}

func writeProxyError(w stdhttp.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
