package directory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
)

func newAdapter(t *testing.T, tokenURL, base string) *Adapter {
	t.Helper()
	c := httpclient.New(config.HTTPConfig{
		RPSPerHost: 1000, BurstPerHost: 1000, MaxAttempts: 1,
		BaseBackoffMs: 1, MaxBackoffMs: 5, QueueTimeoutMs: 1000,
		MaxResponseBytes: 1 << 20, RequestTimeout: 2 * time.Second, MaxConcurrent: 10,
	}, metrics.New().HTTP(), slog.Default())
	a := New(config.DirectoryConfig{BaseURL: base, TenantID: "tenant", ClientID: "id", ClientSecret: "secret"}, c)
	a.tokens.TokenURL = tokenURL
	return a
}

func newTestServers(t *testing.T) (tokenSrv, apiSrv *httptest.Server) {
	tokenSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "token_type": "Bearer", "expires_in": 3600})
	}))
	apiSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/users") {
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"id": "e1"}}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "e1"})
	}))
	t.Cleanup(tokenSrv.Close)
	t.Cleanup(apiSrv.Close)
	return tokenSrv, apiSrv
}

func TestAdapter_ListAll_FetchesTokenThenLists(t *testing.T) {
	tokenSrv, apiSrv := newTestServers(t)
	a := newAdapter(t, tokenSrv.URL, apiSrv.URL)

	page, err := a.ListAll(context.Background(), domain.EntityEmployee, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestAdapter_GetByID_NotFound(t *testing.T) {
	tokenSrv, apiSrv := newTestServers(t)
	a := newAdapter(t, tokenSrv.URL, apiSrv.URL)

	item, found, err := a.GetByID(context.Background(), domain.EntityEmployee, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, item)
}
