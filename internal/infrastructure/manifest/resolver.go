// Package manifest resolves service names to routing endpoints from the
// declarative manifest published by the deployment subsystem. The whole
// name map is an immutable snapshot replaced atomically on reload;
// concurrent readers never observe a partial update.
package manifest

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
	"servicegate/internal/domain"
)

type manifestFile struct {
	Services map[string]serviceSpec `yaml:"services"`
}

type serviceSpec struct {
	Address string `yaml:"address"`
	// Port is the container-side port and the only one routing may use.
	// HostPort exists for direct external access and diagnostics.
	Port     int    `yaml:"port"`
	HostPort int    `yaml:"host_port"`
	Image    string `yaml:"image"`
	Scheme   string `yaml:"scheme"`
}

// schemeByName wins over the image heuristic for exact service names.
var schemeByName = map[string]string{
	"vault":    "https",
	"registry": "https",
}

// tlsImageHints marks images that terminate TLS on their container port.
var tlsImageHints = []string{"vault", "registry", "-tls", "-ssl"}

type snapshot struct {
	endpoints map[string]domain.ServiceEndpoint
}

type Resolver struct {
	current atomic.Pointer[snapshot]
}

func NewResolver() *Resolver {
	r := &Resolver{}
	r.current.Store(&snapshot{endpoints: map[string]domain.ServiceEndpoint{}})
	return r
}

// NewStatic builds a resolver over a fixed endpoint set, bypassing the
// manifest file. Used by tests and single-service deployments.
func NewStatic(endpoints map[string]domain.ServiceEndpoint) *Resolver {
	r := NewResolver()
	copied := make(map[string]domain.ServiceEndpoint, len(endpoints))
	for name, ep := range endpoints {
		ep.Name = name
		if ep.Scheme == "" {
			ep.Scheme = "http"
		}
		copied[name] = ep
	}
	r.current.Store(&snapshot{endpoints: copied})
	return r
}

// Load parses the manifest at path and swaps the snapshot in one atomic
// store. On any error the previous snapshot keeps serving.
func (r *Resolver) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var file manifestFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	endpoints := make(map[string]domain.ServiceEndpoint, len(file.Services))
	for name, spec := range file.Services {
		if name == "" || spec.Address == "" || spec.Port <= 0 {
			return fmt.Errorf("manifest service %q: address and port are required", name)
		}
		endpoints[name] = domain.ServiceEndpoint{
			Name:    name,
			Address: spec.Address,
			Port:    spec.Port,
			Scheme:  inferScheme(name, spec),
		}
	}
	r.current.Store(&snapshot{endpoints: endpoints})
	return nil
}

// inferScheme priority: explicit manifest field, exact-name table, image
// heuristic, then http.
func inferScheme(name string, spec serviceSpec) string {
	if spec.Scheme != "" {
		return spec.Scheme
	}
	if scheme, ok := schemeByName[name]; ok {
		return scheme
	}
	image := strings.ToLower(spec.Image)
	for _, hint := range tlsImageHints {
		if image != "" && strings.Contains(image, hint) {
			return "https"
		}
	}
	return "http"
}

func (r *Resolver) Resolve(name string) (domain.ServiceEndpoint, error) {
	ep, ok := r.current.Load().endpoints[name]
	if !ok {
		return domain.ServiceEndpoint{}, domain.ErrUnknownService
	}
	return ep, nil
}

// BuildURL joins the resolved endpoint with subpath. The container-side
// port from the manifest is authoritative here.
func (r *Resolver) BuildURL(name, subpath string) (string, error) {
	ep, err := r.Resolve(name)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: ep.Scheme,
		Host:   net.JoinHostPort(ep.Address, strconv.Itoa(ep.Port)),
		Path:   "/" + strings.TrimPrefix(subpath, "/"),
	}
	return u.String(), nil
}

// Services lists the names in the current snapshot, for diagnostics.
func (r *Resolver) Services() []string {
	endpoints := r.current.Load().endpoints
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		names = append(names, name)
	}
	return names
}
