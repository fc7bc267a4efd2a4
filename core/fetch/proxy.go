package fetch

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"melodex/logger"

	"github.com/fsnotify/fsnotify"
)

// Proxy is one entry in the rotation pool.
type Proxy struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

// ProxyPool rotates between proxies for upstream downloads so a
// single blocked address doesn't stall the pipeline. Failed proxies
// sit out a cooldown before being eligible again. The pool file is
// hot-reloaded on change.
type ProxyPool struct {
	mu       sync.Mutex
	proxies  []Proxy
	failures map[string]time.Time
	cooldown time.Duration
	watcher  *fsnotify.Watcher
}

// NewProxyPool loads the pool from a JSON file ({"proxies":[...]})
// and starts watching it for changes. A missing file yields an empty
// pool, which means direct connections.
func NewProxyPool(path string, cooldown time.Duration) *ProxyPool {
	p := &ProxyPool{
		failures: make(map[string]time.Time),
		cooldown: cooldown,
	}
	p.load(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Proxy file watcher unavailable", logger.ErrorField(err))
		return p
	}
	if err := watcher.Add(path); err != nil {
		// nothing to watch until the file appears
		watcher.Close()
		return p
	}
	p.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					p.load(path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Proxy file watch error", logger.ErrorField(err))
			}
		}
	}()
	return p
}

// Close stops the file watcher.
func (p *ProxyPool) Close() {
	if p.watcher != nil {
		p.watcher.Close()
	}
}

func (p *ProxyPool) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read proxy file", logger.String("path", path), logger.ErrorField(err))
		}
		return
	}

	var payload struct {
		Proxies []Proxy `json:"proxies"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		logger.Warn("Failed to parse proxy file", logger.String("path", path), logger.ErrorField(err))
		return
	}

	p.mu.Lock()
	p.proxies = payload.Proxies
	p.mu.Unlock()
	logger.Info("Loaded proxies", logger.Int("count", len(payload.Proxies)), logger.String("path", path))
}

// Get returns a random proxy that is not in cooldown. When every
// proxy is cooling down the least recently failed one is reused; an
// empty pool returns nil (direct connection).
func (p *ProxyPool) Get() *Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for u, failedAt := range p.failures {
		if now.Sub(failedAt) > p.cooldown {
			delete(p.failures, u)
		}
	}

	var available []Proxy
	for _, proxy := range p.proxies {
		if _, failed := p.failures[proxy.URL]; !failed {
			available = append(available, proxy)
		}
	}

	if len(available) == 0 {
		if len(p.proxies) == 0 {
			return nil
		}
		// every proxy failed recently; reuse the least recently failed
		var oldest *Proxy
		var oldestAt time.Time
		for i := range p.proxies {
			failedAt, ok := p.failures[p.proxies[i].URL]
			if !ok {
				continue
			}
			if oldest == nil || failedAt.Before(oldestAt) {
				oldest = &p.proxies[i]
				oldestAt = failedAt
			}
		}
		if oldest != nil {
			logger.Warn("All proxies cooling down, reusing least recently failed",
				logger.String("proxy", oldest.URL))
		}
		return oldest
	}

	chosen := available[rand.Intn(len(available))]
	return &chosen
}

// MarkFailed puts a proxy into cooldown.
func (p *ProxyPool) MarkFailed(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[proxyURL] = time.Now()
	logger.Warn("Proxy marked failed", logger.String("proxy", proxyURL))
}

// Transport builds an http.Transport routed through the proxy. A nil
// proxy yields a direct transport.
func (p *ProxyPool) Transport(proxy *Proxy) *http.Transport {
	transport := &http.Transport{}
	if proxy == nil {
		return transport
	}
	proxyURL, err := url.Parse(proxy.URL)
	if err != nil {
		logger.Warn("Invalid proxy URL", logger.String("proxy", proxy.URL), logger.ErrorField(err))
		return transport
	}
	transport.Proxy = http.ProxyURL(proxyURL)
	return transport
}
