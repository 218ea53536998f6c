// Package transport builds the HTTP client used to reach the store.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Shared WordPress hosting often sits behind a CDN that rate-limits clients
// by TLS fingerprint, and Go's default ClientHello is easy to single out.
// A feed sync issues one lookup and one write per product, so a throttled
// fingerprint turns a five-minute run into an hour.
//
// For https URLs this transport dials with uTLS presenting Chrome's
// ClientHello, speaks HTTP/2 when ALPN selects it and falls back to
// HTTP/1.1 otherwise. Plain http URLs (local stores, tests) go through a
// regular http.Transport.
//
// =============================================================================

// Fingerprint selects the TLS ClientHello.
type Fingerprint string

const (
	FingerprintChrome Fingerprint = "chrome"
	FingerprintGo     Fingerprint = "go" // standard library TLS
)

// Options configures NewClient.
type Options struct {
	Timeout     time.Duration // whole request, default 30s
	Fingerprint Fingerprint   // default chrome
	UserAgent   string        // set on requests that carry none
}

// NewClient returns an http.Client for the store API.
func NewClient(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: NewRoundTripper(opts),
	}
}

// NewRoundTripper returns the transport NewClient uses.
func NewRoundTripper(opts Options) http.RoundTripper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}

	plain := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	var rt http.RoundTripper = plain
	if opts.Fingerprint != FingerprintGo {
		hello := utls.HelloChrome_Auto
		rt = &chromeTransport{
			h2: &http2.Transport{
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					return dialFingerprinted(ctx, dialer, network, addr, hello)
				},
				ReadIdleTimeout: 30 * time.Second,
			},
			h1: &http.Transport{
				DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return dialFingerprinted(ctx, dialer, network, addr, hello)
				},
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
			plain: plain,
		}
	}

	if opts.UserAgent == "" {
		return rt
	}
	return &userAgentTransport{next: rt, userAgent: opts.UserAgent}
}

// chromeTransport routes https through the fingerprinted dialers.
type chromeTransport struct {
	h2    *http2.Transport
	h1    *http.Transport
	plain *http.Transport
}

// RoundTrip tries HTTP/2 first and falls back to HTTP/1.1 when the server
// does not negotiate h2.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}
	// a consumed body cannot be replayed on the fallback
	if req.Body != nil && req.GetBody == nil {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, fmt.Errorf("rewinding request body: %w", berr)
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

// dialFingerprinted establishes a TLS connection with the given ClientHello.
func dialFingerprinted(ctx context.Context, dialer *net.Dialer, network, addr string, hello utls.ClientHelloID) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, hello)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}

// userAgentTransport sets a default User-Agent. Some WAFs reject requests
// without one.
type userAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(req)
}
