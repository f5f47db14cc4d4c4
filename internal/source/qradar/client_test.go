package qradar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offensebot/internal/offense"
	logx "offensebot/pkg/logx"
)

func newTestClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	if cfg.Token == "" {
		cfg.Token = "secret-token"
	}
	c, err := New(cfg, logx.Nop())
	require.NoError(t, err)
	return c.WithHTTPClient(srv.Client())
}

func TestFetchSendsProjectionFilterAndHeaders(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/siem/offenses", r.URL.Path)
		assert.Equal(t, "status=OPEN", r.URL.Query().Get("filter"))
		assert.Equal(t,
			"id,description,status,categories,start_time,severity,offense_source,source_network,destination_networks",
			r.URL.Query().Get("fields"))
		assert.Equal(t, "secret-token", r.Header.Get("SEC"))
		assert.Equal(t, "8.1", r.Header.Get("Version"))
		assert.Equal(t, "items=0-49", r.Header.Get("Range"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":2,"description":"b","severity":3},{"id":1,"description":"a","severity":9}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{MaxItems: 50})
	got, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Source order is preserved.
	assert.Equal(t, offense.ID("2"), got[0].ID)
	assert.Equal(t, offense.ID("1"), got[1].ID)
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	got, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Empty(t, got)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Error(), "unauthorized")
}

func TestFetchBadJSON(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, Config{}).Fetch(context.Background())
	require.Error(t, err)
}

func TestFetchRejectsUntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	// The default client does not trust the httptest CA.
	c, err := New(Config{BaseURL: srv.URL, Token: "t", Timeout: 2 * time.Second}, logx.Nop())
	require.NoError(t, err)
	_, err = c.Fetch(context.Background())
	require.Error(t, err)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	hc := srv.Client()
	hc.Timeout = 50 * time.Millisecond
	c = c.WithHTTPClient(hc)

	_, err := c.Fetch(context.Background())
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Token: "t"}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "https://x"}, logx.Nop())
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = New(Config{BaseURL: "https://x", Token: "t", CAFile: bad}, logx.Nop())
	assert.Error(t, err)
}

func TestEndpointNormalizesBaseURL(t *testing.T) {
	c, err := New(Config{BaseURL: "https://siem.local", Token: "t"}, logx.Nop())
	require.NoError(t, err)
	assert.Contains(t, c.Endpoint(), "https://siem.local/api/siem/offenses?")
}
