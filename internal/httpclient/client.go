// Package httpclient builds HTTP clients with unified transport and TLS
// trust configuration. The returned client is reused across requests.
package httpclient

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// TLSOptions holds the trust configuration for HTTPS endpoints.
type TLSOptions struct {
	// SkipVerify disables certificate and hostname verification.
	SkipVerify bool

	// CACertPath points to an additional PEM-encoded CA certificate to
	// trust alongside the system roots. The path is expected to already be
	// quote-stripped by the configuration layer.
	CACertPath string

	// PinnedCertSHA256 optionally pins the server's leaf certificate to a
	// hex-encoded SHA-256 fingerprint. Verification fails when the
	// presented leaf does not match.
	PinnedCertSHA256 string
}

// ClientConfig holds configuration options for creating HTTP clients.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
	TLSHandshakeTimeout time.Duration
	TLS                 TLSOptions
}

// DefaultConfig returns a ClientConfig with sensible defaults for API clients.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         30 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// New creates an HTTP client with the provided configuration.
// Per-request deadlines are handled by the caller via context, so the
// client itself carries no overall timeout.
func New(config ClientConfig) (*http.Client, error) {
	tlsConfig, err := buildTLSConfig(config.TLS)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}, nil
}

// buildTLSConfig translates TLSOptions into a *tls.Config. Returns nil when
// no option is set so the transport keeps its defaults.
func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	if !opts.SkipVerify && opts.CACertPath == "" && opts.PinnedCertSHA256 == "" {
		return nil, nil
	}

	cfg := &tls.Config{
		InsecureSkipVerify: opts.SkipVerify, //nolint:gosec // explicit user opt-out
	}

	if opts.CACertPath != "" {
		pem, err := os.ReadFile(opts.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no valid certificates found in %s", opts.CACertPath)
		}
		cfg.RootCAs = pool
	}

	if opts.PinnedCertSHA256 != "" {
		pin := opts.PinnedCertSHA256
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("server presented no certificate")
			}
			sum := sha256.Sum256(rawCerts[0])
			if hex.EncodeToString(sum[:]) != pin {
				return fmt.Errorf("server certificate does not match pinned fingerprint")
			}
			return nil
		}
	}

	return cfg, nil
}
