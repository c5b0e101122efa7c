package httpadapter

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// ProxyManager rotates over a pool of proxy URLs and tracks their health.
type ProxyManager struct {
	proxies  []*proxyEntry
	rotation string
	index    atomic.Int64
	mu       sync.RWMutex
	logger   *slog.Logger
}

type proxyEntry struct {
	URL     *url.URL
	Healthy bool
	LastErr error
	LastUse time.Time
	mu      sync.Mutex
}

// NewProxyManager builds a ProxyManager from a list of proxy URLs and a
// rotation strategy ("round_robin" or "random").
func NewProxyManager(rawURLs []string, rotation string, logger *slog.Logger) *ProxyManager {
	if logger == nil {
		logger = slog.Default()
	}
	pm := &ProxyManager{
		proxies:  make([]*proxyEntry, 0, len(rawURLs)),
		rotation: rotation,
		logger:   logger.With("component", "proxy_manager"),
	}
	for _, raw := range rawURLs {
		u, err := url.Parse(raw)
		if err != nil {
			pm.logger.Warn("invalid proxy URL", "url", raw, "error", err)
			continue
		}
		pm.proxies = append(pm.proxies, &proxyEntry{URL: u, Healthy: true})
	}
	pm.logger.Info("proxy manager initialized", "count", len(pm.proxies), "rotation", rotation)
	return pm
}

// ProxyFunc returns an http.Transport-compatible proxy selector.
func (pm *ProxyManager) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		return pm.Next(), nil
	}
}

// Next returns the next proxy URL per the configured rotation, or nil if
// none are healthy (direct connection).
func (pm *ProxyManager) Next() *url.URL {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	healthy := pm.healthyProxies()
	if len(healthy) == 0 {
		return nil
	}

	var entry *proxyEntry
	if pm.rotation == "random" {
		entry = healthy[rand.Intn(len(healthy))]
	} else {
		idx := pm.index.Add(1) % int64(len(healthy))
		entry = healthy[idx]
	}
	entry.mu.Lock()
	entry.LastUse = time.Now()
	entry.mu.Unlock()
	return entry.URL
}

// MarkFailed flags a proxy unhealthy after a dispatch failure.
func (pm *ProxyManager) MarkFailed(proxyURL *url.URL, err error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, p := range pm.proxies {
		if p.URL.String() == proxyURL.String() {
			p.mu.Lock()
			p.Healthy = false
			p.LastErr = err
			p.mu.Unlock()
			pm.logger.Warn("proxy marked unhealthy", "proxy", proxyURL.Host, "error", err)
			return
		}
	}
}

// MarkHealthy clears a proxy's unhealthy flag.
func (pm *ProxyManager) MarkHealthy(proxyURL *url.URL) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, p := range pm.proxies {
		if p.URL.String() == proxyURL.String() {
			p.mu.Lock()
			p.Healthy = true
			p.LastErr = nil
			p.mu.Unlock()
			return
		}
	}
}

// Count returns the total number of configured proxies.
func (pm *ProxyManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.proxies)
}

// HealthyCount returns the number of currently healthy proxies.
func (pm *ProxyManager) HealthyCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.healthyProxies())
}

// AddProxy adds a proxy URL at runtime.
func (pm *ProxyManager) AddProxy(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.proxies = append(pm.proxies, &proxyEntry{URL: u, Healthy: true})
	return nil
}

func (pm *ProxyManager) healthyProxies() []*proxyEntry {
	healthy := make([]*proxyEntry, 0, len(pm.proxies))
	for _, p := range pm.proxies {
		p.mu.Lock()
		if p.Healthy {
			healthy = append(healthy, p)
		}
		p.mu.Unlock()
	}
	return healthy
}
