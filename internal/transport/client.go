package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// Defaults tuned for a single slow-paced request stream rather than a
// crawling workload.
const (
	defaultDialTimeout           = 5 * time.Second
	defaultKeepAliveInterval     = 15 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultRequestTimeout        = 10 * time.Second

	defaultMaxIdleConns    = 10
	defaultIdleConnTimeout = 30 * time.Second
)

// Config holds the settings shared by the proxy and direct transports.
type Config struct {
	Timeout         time.Duration
	IgnoreTLSErrors bool
	Headers         map[string]string
	// ProxyURL routes requests through the intercepting proxy. Nil builds a
	// direct-only pair.
	ProxyURL *url.URL
	Logger   *zap.Logger
}

// Pair bundles the two transports available to a session. Both share one
// cookie jar so a login performed on either path authenticates both.
type Pair struct {
	Proxy  schemas.Transport
	Direct schemas.Transport
}

// NewPair builds the via-proxy and direct transports. The proxy transport is
// nil when no proxy is configured.
func NewPair(cfg Config) (*Pair, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	pair := &Pair{
		Direct: &httpTransport{
			client:  newHTTPClient(cfg, nil, jar),
			kind:    schemas.TransportDirect,
			headers: cfg.Headers,
			log:     cfg.Logger.Named("transport.direct"),
		},
	}
	if cfg.ProxyURL != nil {
		pair.Proxy = &httpTransport{
			client:  newHTTPClient(cfg, cfg.ProxyURL, jar),
			kind:    schemas.TransportProxy,
			headers: cfg.Headers,
			log:     cfg.Logger.Named("transport.proxy"),
		}
	}
	return pair, nil
}

// For selects the transport for the given kind, falling back to direct when
// no proxy transport exists.
func (p *Pair) For(kind schemas.TransportKind) schemas.Transport {
	if kind == schemas.TransportProxy && p.Proxy != nil {
		return p.Proxy
	}
	return p.Direct
}

func newHTTPClient(cfg Config, proxyURL *url.URL, jar http.CookieJar) *http.Client {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(64),
		// Intercepting proxies present their own CA, so TLS verification is
		// commonly disabled for local proxy work.
		InsecureSkipVerify: cfg.IgnoreTLSErrors,
	}

	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ForceAttemptHTTP2:     true,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		cfg.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
	}

	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.Timeout,
		// Redirects are a signal, not something to follow: the success
		// predicate may key on a 302 to a logged-in area.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
