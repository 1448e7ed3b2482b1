package proxymon

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

func fixedClassifier(kind schemas.ProxyKind) Classifier {
	return func(ctx context.Context, proxyURL *url.URL) schemas.ProxyKind { return kind }
}

// listen opens a real TCP listener standing in for the proxy.
func listen(t *testing.T) (net.Listener, *url.URL) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	u, err := url.Parse("http://" + ln.Addr().String())
	require.NoError(t, err)
	return ln, u
}

func TestMonitorInitialProbe(t *testing.T) {
	t.Run("reachable proxy is alive and classified", func(t *testing.T) {
		ln, proxyURL := listen(t)
		defer ln.Close()

		m := New(proxyURL, Config{}, fixedClassifier(schemas.ProxyKindBurp), nil, zap.NewNop())

		status := m.Status()
		assert.True(t, status.Alive)
		assert.Equal(t, schemas.ProxyKindBurp, status.Kind)
		assert.False(t, status.CheckedAt.IsZero())
	})

	t.Run("nil classifier reports unknown kind", func(t *testing.T) {
		ln, proxyURL := listen(t)
		defer ln.Close()

		m := New(proxyURL, Config{}, nil, nil, zap.NewNop())

		status := m.Status()
		assert.True(t, status.Alive)
		assert.Equal(t, schemas.ProxyKindUnknown, status.Kind)
	})

	t.Run("unreachable proxy is dead, not an error", func(t *testing.T) {
		ln, proxyURL := listen(t)
		ln.Close() // Nothing listens anymore.

		m := New(proxyURL, Config{ProbeTimeout: 200 * time.Millisecond}, fixedClassifier(schemas.ProxyKindBurp), nil, zap.NewNop())

		status := m.Status()
		assert.False(t, status.Alive)
		assert.Equal(t, schemas.ProxyKindNone, status.Kind)
	})
}

func TestMonitorDetectsTransition(t *testing.T) {
	ln, proxyURL := listen(t)

	var mu sync.Mutex
	var transitions []schemas.ProxyStatus
	onTransition := func(prev, next schemas.ProxyStatus) {
		mu.Lock()
		transitions = append(transitions, next)
		mu.Unlock()
	}

	m := New(proxyURL, Config{Interval: 50 * time.Millisecond, ProbeTimeout: 200 * time.Millisecond},
		fixedClassifier(schemas.ProxyKindZAP), onTransition, zap.NewNop())
	require.True(t, m.Status().Alive)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Kill the proxy; the monitor must notice within a few poll intervals.
	ln.Close()
	require.Eventually(t, func() bool {
		return !m.Status().Alive
	}, 2*time.Second, 20*time.Millisecond, "monitor never saw the proxy die")

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, transitions)
	assert.False(t, transitions[len(transitions)-1].Alive)
}

func TestMonitorTimestampsMonotone(t *testing.T) {
	ln, proxyURL := listen(t)
	defer ln.Close()

	m := New(proxyURL, Config{ProbeTimeout: 200 * time.Millisecond}, fixedClassifier(schemas.ProxyKindUnknown), nil, zap.NewNop())

	prev := m.Status().CheckedAt
	for i := 0; i < 5; i++ {
		m.probeOnce(context.Background())
		current := m.Status().CheckedAt
		assert.False(t, current.Before(prev), "CheckedAt went backwards")
		prev = current
	}
}

func TestDefaultClassifier(t *testing.T) {
	t.Run("burp via server header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "Burp Suite Professional")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		proxyURL, _ := url.Parse(server.URL)
		classify := DefaultClassifier("http://example.com/", time.Second)
		assert.Equal(t, schemas.ProxyKindBurp, classify(context.Background(), proxyURL))
	})

	t.Run("zap via core api", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/JSON/core/view/version/" {
				w.Write([]byte(`{"version":"2.15.0"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		proxyURL, _ := url.Parse(server.URL)
		classify := DefaultClassifier("http://example.com/", time.Second)
		assert.Equal(t, schemas.ProxyKindZAP, classify(context.Background(), proxyURL))
	})

	t.Run("unknown when neither fingerprint matches", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		proxyURL, _ := url.Parse(server.URL)
		classify := DefaultClassifier("http://example.com/", time.Second)
		assert.Equal(t, schemas.ProxyKindUnknown, classify(context.Background(), proxyURL))
	})
}
