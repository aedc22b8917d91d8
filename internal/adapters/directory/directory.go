// Package directory adapts the corporate directory service — a read-only
// source of employee identity and org-membership records — onto the
// adapters.Source contract. Authentication is OAuth2 client-credentials,
// via golang.org/x/oauth2/clientcredentials (already an indirect dependency
// of the teacher's stack, promoted here to direct use).
package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/adapters/httpsource"
	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
)

// Adapter talks to the directory service. It only supports
// domain.EntityEmployee (identity and org-membership records).
type Adapter struct {
	c      *httpclient.Client
	base   string
	tokens *clientcredentials.Config
}

// New builds a directory Adapter from cfg. The token endpoint follows the
// common tenant-scoped client-credentials pattern.
func New(cfg config.DirectoryConfig, c *httpclient.Client) *Adapter {
	return &Adapter{
		c:    c,
		base: cfg.BaseURL,
		tokens: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", cfg.BaseURL, cfg.TenantID),
			Scopes:       []string{"directory.read"},
		},
	}
}

func (a *Adapter) authHeader(ctx context.Context) (http.Header, error) {
	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.AuthFailed, "directory: client-credentials token fetch failed", err)
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	h.Set("Content-Type", "application/json")
	return h, nil
}

func (a *Adapter) checkEntity(entityType domain.EntityType) error {
	if entityType != domain.EntityEmployee {
		return errs.New(errs.Internal, fmt.Sprintf("directory: unsupported entity type %q", entityType))
	}
	return nil
}

// ListAll returns one page of employee identity records starting at cursor.
func (a *Adapter) ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (adapters.Page, error) {
	if err := a.checkEntity(entityType); err != nil {
		return adapters.Page{}, err
	}
	headers, err := a.authHeader(ctx)
	if err != nil {
		return adapters.Page{}, err
	}

	u, err := url.Parse(a.base + "/v1.0/users")
	if err != nil {
		return adapters.Page{}, errs.Wrap(errs.Internal, "directory: bad base url", err)
	}
	q := u.Query()
	q.Set("$top", "100")
	if cursor != "" {
		q.Set("$skiptoken", cursor)
	}
	u.RawQuery = q.Encode()

	resp, err := a.c.Do(ctx, httpclient.Request{Method: http.MethodGet, URL: u.String(), Headers: headers})
	if err != nil {
		return adapters.Page{}, err
	}
	env, err := httpsource.DecodeEnvelope(resp.Body)
	if err != nil {
		return adapters.Page{}, errs.Wrap(errs.Internal, "directory: decode list response", err)
	}
	return adapters.Page{Items: env.Items, NextCursor: env.NextCursor, HasMore: env.HasMore}, nil
}

// GetByID fetches one employee identity record, reporting (nil, false, nil)
// on a 404.
func (a *Adapter) GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error) {
	if err := a.checkEntity(entityType); err != nil {
		return nil, false, err
	}
	headers, err := a.authHeader(ctx)
	if err != nil {
		return nil, false, err
	}

	resp, err := a.c.Do(ctx, httpclient.Request{
		Method:  http.MethodGet,
		URL:     fmt.Sprintf("%s/v1.0/users/%s", a.base, url.PathEscape(id)),
		Headers: headers,
	})
	if err != nil {
		if errs.Is(err, errs.DataMissing) {
			return nil, false, nil
		}
		return nil, false, err
	}
	item, err := httpsource.DecodeItem(resp.Body)
	if err != nil {
		return nil, false, errs.Wrap(errs.Internal, "directory: decode item response", err)
	}
	return item, item != nil, nil
}

var _ adapters.Source = (*Adapter)(nil)
