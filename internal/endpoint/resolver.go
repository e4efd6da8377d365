// Package endpoint decides which base URL API calls go to.
package endpoint

import (
	"fmt"

	"github.com/haloview/haloview-go/internal/config"
	"github.com/haloview/haloview-go/internal/discovery"
)

// DefaultBaseURL is the hardcoded cloud endpoint used when nothing better
// is known.
const DefaultBaseURL = "https://api.haloview.io"

// DiscoverySource exposes the latest local-network discovery result.
type DiscoverySource interface {
	Current() *discovery.Endpoint
}

// ConfigSource returns the currently effective server config. Called on
// every resolution so hot-reloaded config takes effect immediately.
type ConfigSource func() config.ServerConfig

// Resolver picks the base URL by preference: discovered local server,
// configured remote server, default cloud. It holds no state of its own and
// never caches — discovery results change asynchronously.
type Resolver struct {
	disco DiscoverySource
	cfg   ConfigSource
}

// NewResolver creates a resolver over the given sources. disco may be nil
// when discovery is disabled.
func NewResolver(disco DiscoverySource, cfg ConfigSource) *Resolver {
	return &Resolver{disco: disco, cfg: cfg}
}

// BaseURL returns the API base URL for the next request.
func (r *Resolver) BaseURL() string {
	if r.disco != nil {
		if ep := r.disco.Current(); ep != nil && ep.Available {
			return ep.URL
		}
	}

	if srv := r.cfg(); srv.IsConfigured() {
		scheme := "https"
		if !srv.TLS() {
			scheme = "http"
		}
		if srv.Port != 0 {
			return fmt.Sprintf("%s://%s:%d", scheme, srv.Host, srv.Port)
		}
		return fmt.Sprintf("%s://%s", scheme, srv.Host)
	}

	return DefaultBaseURL
}
