// Package fleet adapts the fleet-management provider — a read-only vehicle
// source — onto the adapters.Source contract.
package fleet

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/adapters/httpsource"
	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
)

// Adapter talks to the fleet-management provider. It only supports
// domain.EntityVehicle; any other entity type is a programmer error.
type Adapter struct {
	c    *httpclient.Client
	base string
	auth http.Header
}

// New builds a fleet Adapter from cfg.
func New(cfg config.EndpointConfig, c *httpclient.Client) *Adapter {
	return &Adapter{c: c, base: cfg.BaseURL, auth: httpsource.Bearer(cfg.Token)}
}

func (a *Adapter) checkEntity(entityType domain.EntityType) error {
	if entityType != domain.EntityVehicle {
		return errs.New(errs.Internal, fmt.Sprintf("fleet: unsupported entity type %q", entityType))
	}
	return nil
}

// ListAll returns one page of vehicle records starting at cursor.
func (a *Adapter) ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (adapters.Page, error) {
	if err := a.checkEntity(entityType); err != nil {
		return adapters.Page{}, err
	}

	u, err := url.Parse(a.base + "/v1/vehicles")
	if err != nil {
		return adapters.Page{}, errs.Wrap(errs.Internal, "fleet: bad base url", err)
	}
	q := u.Query()
	q.Set("limit", "100")
	if cursor != "" {
		q.Set("page_token", cursor)
	}
	u.RawQuery = q.Encode()

	resp, err := a.c.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: u.String(), Headers: a.auth})
	if err != nil {
		return adapters.Page{}, err
	}
	env, err := httpsource.DecodeEnvelope(resp.Body)
	if err != nil {
		return adapters.Page{}, errs.Wrap(errs.Internal, "fleet: decode list response", err)
	}
	return adapters.Page{Items: env.Items, NextCursor: env.NextCursor, HasMore: env.HasMore}, nil
}

// GetByID fetches one vehicle, reporting (nil, false, nil) on a 404.
func (a *Adapter) GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error) {
	if err := a.checkEntity(entityType); err != nil {
		return nil, false, err
	}
	resp, err := a.c.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     fmt.Sprintf("%s/v1/vehicles/%s", a.base, url.PathEscape(id)),
		Headers: a.auth,
	})
	if err != nil {
		if errs.Is(err, errs.DataMissing) {
			return nil, false, nil
		}
		return nil, false, err
	}
	item, err := httpsource.DecodeItem(resp.Body)
	if err != nil {
		return nil, false, errs.Wrap(errs.Internal, "fleet: decode item response", err)
	}
	return item, item != nil, nil
}

var _ adapters.Source = (*Adapter)(nil)
