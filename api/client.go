package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBody bounds how much of a response is read into memory.
const maxResponseBody = 1 << 20

// ClientConfig holds the settings shared by every component talking to the provider.
type ClientConfig struct {
	// DiscoveryURL is the bootstrap discovery document location.
	DiscoveryURL string

	// UserAgent and CorrelationID are sent on every request.
	UserAgent     string
	CorrelationID string

	// DeviceModel prefixes the human-readable model string sent on enrollment.
	DeviceModel string

	// RootCAs overrides the server trust pool. Nil means the system pool.
	RootCAs *x509.CertPool

	// Transport replaces the TLS transport entirely, including the client
	// identity on mutual-TLS calls. Intended for tests.
	Transport http.RoundTripper

	// Timeout is applied per request. Zero means no timeout.
	Timeout time.Duration

	Log *slog.Logger
}

// DefaultClientConfig returns the configuration matching the observed mobile client.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		DiscoveryURL:  DefaultDiscoveryURL,
		UserAgent:     DefaultUserAgent,
		CorrelationID: DefaultCorrelationID,
		DeviceModel:   DefaultDeviceModel,
	}
}

// Logger returns the configured logger or the default one.
func (c *ClientConfig) Logger() *slog.Logger {
	if c == nil || c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

// AppendRootCAs adds PEM-encoded certificates to the trust pool, on top of
// the system roots.
func (c *ClientConfig) AppendRootCAs(pemCerts []byte) error {
	if c.RootCAs == nil {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		c.RootCAs = pool
	}
	if !c.RootCAs.AppendCertsFromPEM(pemCerts) {
		return errors.New("no certificates found in root CA PEM")
	}
	return nil
}

// HTTPClient returns a client for unauthenticated HTTPS calls.
func (c *ClientConfig) HTTPClient() *http.Client {
	return c.newClient(nil)
}

// MTLSClient returns a client presenting identity as TLS client certificate.
// Callers should CloseIdleConnections once done, the client is not shared.
func (c *ClientConfig) MTLSClient(identity tls.Certificate) *http.Client {
	return c.newClient(&identity)
}

func (c *ClientConfig) newClient(identity *tls.Certificate) *http.Client {
	base := c.Transport
	if base == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    c.RootCAs,
		}
		if identity != nil {
			tr.TLSClientConfig.Certificates = []tls.Certificate{*identity}
		}
		base = tr
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		Timeout:   c.Timeout,
	}
}

// SetDefaultHeaders sets the fixed headers every provider request carries.
func (c *ClientConfig) SetDefaultHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CorrelationIDHeader, c.CorrelationID)
	req.Header.Set("User-Agent", c.UserAgent)
}

// NewJSONRequest builds a request with the default headers and body encoded as JSON.
// A nil body sends no payload.
func (c *ClientConfig) NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("could not encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}
	c.SetDefaultHeaders(req)
	return req, nil
}

// SetBearer authorizes req with an access token from an AuthSession.
func SetBearer(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
}
