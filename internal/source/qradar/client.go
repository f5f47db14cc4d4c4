// Package qradar fetches open offenses from the QRadar SIEM REST API.
package qradar

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"offensebot/internal/format"
	"offensebot/internal/offense"
	logx "offensebot/pkg/logx"
)

const (
	offensesPath      = "api/siem/offenses"
	openFilter        = "status=OPEN"
	defaultAPIVersion = "8.1"
	defaultTimeout    = 30 * time.Second

	// maxBodySnippet bounds how much of an error response ends up in logs.
	maxBodySnippet = 512
)

// Config configures the client. BaseURL and Token are required.
type Config struct {
	BaseURL    string
	Token      string // sent as the SEC header
	APIVersion string
	Timeout    time.Duration
	// MaxItems adds "Range: items=0-(MaxItems-1)" when > 0.
	MaxItems int
	// CAFile is an optional PEM bundle appended to the system roots.
	CAFile string
}

type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("qradar base url is empty")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("qradar token is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("qradar base url: %w", err)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	tlsCfg, err := tlsConfig(cfg.CAFile)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg

	return &Client{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout, Transport: tr},
	}, nil
}

// WithHTTPClient swaps the underlying HTTP client (tests use httptest TLS clients).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	cp := *c
	cp.http = hc
	return &cp
}

func tlsConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if strings.TrimSpace(caFile) == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("qradar ca file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("qradar ca file %s: no certificates found", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// Endpoint returns the full offenses URL including the query string.
func (c *Client) Endpoint() string {
	q := url.Values{}
	q.Set("fields", strings.Join(offense.Fields, ","))
	q.Set("filter", openFilter)
	return format.BaseURL(c.cfg.BaseURL) + offensesPath + "?" + q.Encode()
}

// Fetch returns the currently open offenses in the order the API lists them.
func (c *Client) Fetch(ctx context.Context) ([]offense.Offense, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("SEC", c.cfg.Token)
	req.Header.Set("Version", c.cfg.APIVersion)
	req.Header.Set("Accept", "application/json")
	if c.cfg.MaxItems > 0 {
		req.Header.Set("Range", fmt.Sprintf("items=0-%d", c.cfg.MaxItems-1))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qradar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out []offense.Offense
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("qradar decode: %w", err)
	}
	c.log.Debug("offenses fetched", logx.Int("count", len(out)), logx.Duration("took", time.Since(start)))
	return out, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qradar: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("qradar: unexpected status %d: %s", e.Code, e.Body)
}
