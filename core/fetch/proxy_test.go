package fetch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProxyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing proxy file: %v", err)
	}
	return path
}

func TestProxyPoolLoad(t *testing.T) {
	path := writeProxyFile(t, `{"proxies":[{"url":"http://p1:8080"},{"url":"http://p2:8080"}]}`)
	pool := NewProxyPool(path, time.Minute)
	defer pool.Close()

	proxy := pool.Get()
	if proxy == nil {
		t.Fatal("expected a proxy from a populated pool")
	}
	if proxy.URL != "http://p1:8080" && proxy.URL != "http://p2:8080" {
		t.Errorf("unexpected proxy %q", proxy.URL)
	}
}

func TestProxyPoolEmpty(t *testing.T) {
	pool := NewProxyPool(filepath.Join(t.TempDir(), "missing.json"), time.Minute)
	defer pool.Close()

	if proxy := pool.Get(); proxy != nil {
		t.Errorf("expected nil proxy for empty pool, got %q", proxy.URL)
	}
}

func TestProxyPoolCooldown(t *testing.T) {
	path := writeProxyFile(t, `{"proxies":[{"url":"http://p1:8080"},{"url":"http://p2:8080"}]}`)
	pool := NewProxyPool(path, time.Hour)
	defer pool.Close()

	pool.MarkFailed("http://p1:8080")
	for i := 0; i < 20; i++ {
		proxy := pool.Get()
		if proxy == nil {
			t.Fatal("expected the healthy proxy")
		}
		if proxy.URL == "http://p1:8080" {
			t.Fatal("failed proxy returned while another is healthy")
		}
	}
}

func TestProxyPoolFallbackToOldestFailure(t *testing.T) {
	path := writeProxyFile(t, `{"proxies":[{"url":"http://p1:8080"},{"url":"http://p2:8080"}]}`)
	pool := NewProxyPool(path, time.Hour)
	defer pool.Close()

	pool.MarkFailed("http://p1:8080")
	time.Sleep(5 * time.Millisecond)
	pool.MarkFailed("http://p2:8080")

	proxy := pool.Get()
	if proxy == nil {
		t.Fatal("expected fallback proxy when all are cooling down")
	}
	if proxy.URL != "http://p1:8080" {
		t.Errorf("expected least recently failed proxy, got %q", proxy.URL)
	}
}

func TestProxyPoolCooldownExpiry(t *testing.T) {
	path := writeProxyFile(t, `{"proxies":[{"url":"http://p1:8080"}]}`)
	pool := NewProxyPool(path, 10*time.Millisecond)
	defer pool.Close()

	pool.MarkFailed("http://p1:8080")
	time.Sleep(20 * time.Millisecond)

	proxy := pool.Get()
	if proxy == nil || proxy.URL != "http://p1:8080" {
		t.Errorf("expected proxy to be eligible again after cooldown, got %v", proxy)
	}
}

func TestProxyPoolTransport(t *testing.T) {
	pool := NewProxyPool(filepath.Join(t.TempDir(), "missing.json"), time.Minute)
	defer pool.Close()

	if tr := pool.Transport(nil); tr.Proxy != nil {
		t.Error("nil proxy should produce a direct transport")
	}
	if tr := pool.Transport(&Proxy{URL: "http://p1:8080"}); tr.Proxy == nil {
		t.Error("expected proxied transport")
	}
}
