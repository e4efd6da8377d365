// Package discovery finds a HaloView server on the local network via mDNS.
//
// A search runs for at most 10 seconds. A found server is published as an
// in-memory endpoint that the resolver prefers over the configured remote;
// nothing is persisted. Only one search runs at a time — Start while a
// search is in flight is a no-op, Stop is idempotent.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// ServiceName is the mDNS service HaloView servers advertise.
	ServiceName = "_haloview._tcp"
	// SearchTimeout bounds a single discovery run.
	SearchTimeout = 10 * time.Second
)

// Endpoint is a discovered local server address. Transient: superseded by
// the next search, cleared on Refresh.
type Endpoint struct {
	URL       string
	Available bool
}

// LookupFunc performs one bounded service search. The default uses mDNS;
// tests inject their own.
type LookupFunc func(ctx context.Context) (*Endpoint, error)

// Service owns the discovery lifecycle.
type Service struct {
	lookup  LookupFunc
	timeout time.Duration

	mu        sync.Mutex
	searching bool
	gen       uint64
	cancel    context.CancelFunc
	result    *Endpoint
}

// NewService creates a discovery service backed by mDNS.
func NewService() *Service {
	return &Service{lookup: mdnsLookup, timeout: SearchTimeout}
}

// NewServiceWithLookup creates a discovery service with a custom lookup,
// used by tests.
func NewServiceWithLookup(lookup LookupFunc, timeout time.Duration) *Service {
	return &Service{lookup: lookup, timeout: timeout}
}

// Start begins a bounded-time search in the background. No-op if a search
// is already running.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.searching {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.cancel = cancel
	s.searching = true
	s.gen++

	go s.search(ctx, s.gen)
	slog.Info("local discovery started", "service", ServiceName, "timeout", s.timeout)
}

// Stop cancels any in-flight search. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.searching {
		return
	}
	s.cancel()
	s.searching = false
	slog.Info("local discovery stopped")
}

// Refresh clears the previous result and restarts the search.
func (s *Service) Refresh() {
	s.Stop()
	s.mu.Lock()
	s.result = nil
	s.mu.Unlock()
	s.Start()
}

// Close tears the service down. Alias for Stop, named for the owner that
// manages the service's lifetime.
func (s *Service) Close() {
	s.Stop()
}

// Current returns the latest discovery result, or nil if none.
func (s *Service) Current() *Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	ep := *s.result
	return &ep
}

// IsSearching reports whether a search is in flight.
func (s *Service) IsSearching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searching
}

func (s *Service) search(ctx context.Context, gen uint64) {
	ep, err := s.lookup(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	// A Stop or Refresh may have superseded this search; a late result
	// must not overwrite current state.
	if gen != s.gen || !s.searching {
		return
	}
	s.searching = false

	if err != nil {
		slog.Debug("local discovery found nothing", "error", err)
		return
	}

	s.result = ep
	slog.Info("local server discovered", "url", ep.URL)
}

// mdnsLookup queries the local network for an advertised server and resolves
// the first entry to a concrete https URL.
func mdnsLookup(ctx context.Context) (*Endpoint, error) {
	entries := make(chan *mdns.ServiceEntry, 4)

	errc := make(chan error, 1)
	go func() {
		defer close(entries)
		errc <- mdns.Query(&mdns.QueryParam{
			Service:     ServiceName,
			Domain:      "local",
			Timeout:     SearchTimeout,
			Entries:     entries,
			DisableIPv6: true,
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-entries:
			if !ok {
				if err := <-errc; err != nil {
					return nil, err
				}
				return nil, fmt.Errorf("no %s service found", ServiceName)
			}
			if entry.AddrV4 == nil {
				continue
			}
			return &Endpoint{
				URL:       fmt.Sprintf("https://%s:%d", entry.AddrV4, entry.Port),
				Available: true,
			}, nil
		}
	}
}
