package engine

import (
	"context"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/errs"
)

// mergedEmployeeSource layers the directory service's identity fields
// (email, phone, display name) onto the ERP employee record, correlated by
// email address. The ERP record remains authoritative for job/site
// assignment and is never dropped on a directory miss — the directory only
// supplements contact fields the validator would otherwise auto-repair.
type mergedEmployeeSource struct {
	erp       adapters.Source
	directory adapters.Source
}

// NewMergedEmployeeSource builds the adapters.Source the engine wires in for
// domain.EntityEmployee.
func NewMergedEmployeeSource(erpSource, directorySource adapters.Source) adapters.Source {
	return &mergedEmployeeSource{erp: erpSource, directory: directorySource}
}

func (m *mergedEmployeeSource) ListAll(ctx context.Context, entityType domain.EntityType, cursor string) (adapters.Page, error) {
	if entityType != domain.EntityEmployee {
		return adapters.Page{}, errs.New(errs.Internal, "engine: merged employee source only supports employee")
	}
	if cursor != "" {
		// The whole merged set is returned on the first page; callers that
		// paginate past it see an empty, terminal page.
		return adapters.Page{}, nil
	}

	erpItems, err := paginateAll(ctx, m.erp, entityType)
	if err != nil {
		return adapters.Page{}, err
	}
	byEmail, err := m.directoryByEmail(ctx)
	if err != nil {
		return adapters.Page{}, err
	}

	merged := make([]map[string]any, len(erpItems))
	for i, item := range erpItems {
		merged[i] = overlayDirectory(item, byEmail)
	}
	return adapters.Page{Items: merged, HasMore: false}, nil
}

func (m *mergedEmployeeSource) GetByID(ctx context.Context, entityType domain.EntityType, id string) (map[string]any, bool, error) {
	if entityType != domain.EntityEmployee {
		return nil, false, errs.New(errs.Internal, "engine: merged employee source only supports employee")
	}
	item, found, err := m.erp.GetByID(ctx, entityType, id)
	if err != nil || !found {
		return item, found, err
	}
	byEmail, err := m.directoryByEmail(ctx)
	if err != nil {
		return nil, false, err
	}
	return overlayDirectory(item, byEmail), true, nil
}

func (m *mergedEmployeeSource) directoryByEmail(ctx context.Context) (map[string]map[string]any, error) {
	items, err := paginateAll(ctx, m.directory, domain.EntityEmployee)
	if err != nil {
		return nil, err
	}
	byEmail := make(map[string]map[string]any, len(items))
	for _, item := range items {
		email, _ := item["mail"].(string)
		if email == "" {
			email, _ = item["email"].(string)
		}
		if email != "" {
			byEmail[email] = item
		}
	}
	return byEmail, nil
}

func overlayDirectory(erpItem map[string]any, byEmail map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(erpItem))
	for k, v := range erpItem {
		out[k] = v
	}

	email, _ := out["email"].(string)
	dirItem, ok := byEmail[email]
	if !ok {
		return out
	}
	for _, field := range []string{"phone", "mobile_phone", "display_name"} {
		if v, ok := dirItem[field]; ok {
			out[field] = v
		}
	}
	if v, ok := dirItem["mail"]; ok {
		out["email"] = v
	}
	return out
}

var _ adapters.Source = (*mergedEmployeeSource)(nil)
