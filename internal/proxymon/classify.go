package proxymon

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// DefaultClassifier distinguishes Burp from ZAP using their default
// configurations: Burp stamps responses with a Server header and brands its
// error pages, ZAP exposes a JSON API on its listen address. Anything
// reachable that matches neither is Unknown.
func DefaultClassifier(sentinelURL string, timeout time.Duration) Classifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return func(ctx context.Context, proxyURL *url.URL) schemas.ProxyKind {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if looksLikeBurp(ctx, proxyURL, sentinelURL) {
			return schemas.ProxyKindBurp
		}
		if looksLikeZAP(ctx, proxyURL) {
			return schemas.ProxyKindZAP
		}
		return schemas.ProxyKindUnknown
	}
}

// looksLikeBurp fetches a harmless URL through the proxy and checks for
// Burp's fingerprints.
func looksLikeBurp(ctx context.Context, proxyURL *url.URL, sentinelURL string) bool {
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sentinelURL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if strings.Contains(strings.ToLower(resp.Header.Get("Server")), "burp") {
		return true
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return strings.Contains(string(body), "Burp Suite")
}

// looksLikeZAP hits the ZAP core API directly on the proxy's listen address.
func looksLikeZAP(ctx context.Context, proxyURL *url.URL) bool {
	apiURL := fmt.Sprintf("%s://%s/JSON/core/view/version/", proxyURL.Scheme, proxyURL.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return strings.Contains(string(body), "version")
}
