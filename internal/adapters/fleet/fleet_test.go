package fleet

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
)

func newAdapter(t *testing.T, base string) *Adapter {
	t.Helper()
	c := httpclient.New(config.HTTPConfig{
		RPSPerHost: 1000, BurstPerHost: 1000, MaxAttempts: 1,
		BaseBackoffMs: 1, MaxBackoffMs: 5, QueueTimeoutMs: 1000,
		MaxResponseBytes: 1 << 20, RequestTimeout: 2 * time.Second, MaxConcurrent: 10,
	}, metrics.New().HTTP(), slog.Default())
	return New(config.EndpointConfig{BaseURL: base, Token: "tok"}, c)
}

func TestAdapter_ListAll_Vehicles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"id": "v1"}}})
	}))
	defer srv.Close()

	a := newAdapter(t, srv.URL)
	page, err := a.ListAll(context.Background(), domain.EntityVehicle, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestAdapter_ListAll_RejectsUnsupportedEntity(t *testing.T) {
	a := newAdapter(t, "http://example.invalid")
	_, err := a.ListAll(context.Background(), domain.EntityEmployee, "")
	require.Error(t, err)
	assert.Equal(t, errs.Internal, errs.CodeOf(err))
}
