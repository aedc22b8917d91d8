// Package target adapts the safety-management SaaS — the sync engine's
// authoritative write destination — onto the adapters.Target contract,
// riding internal/httpclient for rate-limited, retried HTTP.
package target

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

// paths maps each supported entity type onto the SaaS's REST surface.
var paths = map[domain.EntityType]string{
	domain.EntitySite:       "/api/v2/sites",
	domain.EntityDepartment: "/api/v2/departments",
	domain.EntityTitle:      "/api/v2/titles",
	domain.EntityRole:       "/api/v2/roles",
	domain.EntityAssetType:  "/api/v2/asset_types",
	domain.EntityEmployee:   "/api/v2/users",
	domain.EntityVehicle:    "/api/v2/assets",
	domain.EntityJob:        "/api/v2/sites", // jobs are modeled as sites in the target system
}

// Adapter talks to the safety-management SaaS.
type Adapter struct {
	c    *httpclient.Client
	base string
	auth http.Header
}

// New builds a target Adapter from cfg.
func New(cfg config.EndpointConfig, c *httpclient.Client) *Adapter {
	return &Adapter{c: c, base: cfg.BaseURL, auth: httpsource.Bearer(cfg.Token)}
}

func (a *Adapter) path(entityType domain.EntityType) (string, error) {
	p, ok := paths[entityType]
	if !ok {
		return "", errs.New(errs.Internal, fmt.Sprintf("target: unsupported entity type %q", entityType))
	}
	return p, nil
}

// ListAll returns one page of entityType records starting at cursor.
func (a *Adapter) ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (adapters.Page, error) {
	p, err := a.path(entityType)
	if err != nil {
		return adapters.Page{}, err
	}

	u, err := url.Parse(a.base + p)
	if err != nil {
		return adapters.Page{}, errs.Wrap(errs.Internal, "target: bad base url", err)
	}
	q := u.Query()
	q.Set("per_page", "100")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	resp, err := a.c.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: u.String(), Headers: a.auth})
	if err != nil {
		return adapters.Page{}, err
	}

	env, err := httpsource.DecodeEnvelope(resp.Body)
	if err != nil {
		return adapters.Page{}, errs.Wrap(errs.Internal, "target: decode list response", err)
	}
	return adapters.Page{Items: env.Items, NextCursor: env.NextCursor, HasMore: env.HasMore}, nil
}

// GetByID fetches a single record, reporting (nil, false, nil) on a 404.
func (a *Adapter) GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error) {
	p, err := a.path(entityType)
	if err != nil {
		return nil, false, err
	}

	resp, err := a.c.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     fmt.Sprintf("%s%s/%s", a.base, p, url.PathEscape(id)),
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
		return nil, false, errs.Wrap(errs.Internal, "target: decode item response", err)
	}
	return item, item != nil, nil
}

// Upsert idempotently creates or updates id's record. idempotencyKey is
// derived from the entity's fingerprint (domain.IdempotencyKey) so retried
// writes after a dropped response are safe.
func (a *Adapter) Upsert(ctx context.Context, entityType domain.EntityType, id, idempotencyKey string, payload map[string]any) (adapters.UpsertResult, error) {
	p, err := a.path(entityType)
	if err != nil {
		return adapters.UpsertResult{}, err
	}
	body, err := httpsource.NewJSONBody(payload)
	if err != nil {
		return adapters.UpsertResult{}, errs.Wrap(errs.Internal, "target: encode upsert payload", err)
	}

	headers := a.auth.Clone()
	headers.Set("Idempotency-Key", idempotencyKey)

	resp, err := a.c.Do(ctx, httpclient.Request{
		Method:         http.MethodPut,
		URL:            fmt.Sprintf("%s%s/%s", a.base, p, url.PathEscape(id)),
		Headers:        headers,
		Body:           body,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return adapters.UpsertResult{}, err
	}
	return adapters.UpsertResult{Created: resp.Status == http.StatusCreated, ID: id}, nil
}

// Delete removes id's record, reporting found=false on a 404 rather than an
// error (spec §4.3: absence on delete is not a failure).
func (a *Adapter) Delete(ctx context.Context, entityType domain.EntityType, id string) (bool, error) {
	p, err := a.path(entityType)
	if err != nil {
		return false, err
	}
	_, err = a.c.Do(ctx, httpclient.Request{
		Method:  http.MethodDelete,
		URL:     fmt.Sprintf("%s%s/%s", a.base, p, url.PathEscape(id)),
		Headers: a.auth,
	})
	if err != nil {
		if errs.Is(err, errs.DataMissing) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var _ adapters.Target = (*Adapter)(nil)
