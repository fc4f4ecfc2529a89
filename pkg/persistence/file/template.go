package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/persistence"
)

const templatesDir = "templates"

// TemplateRepository handles template-related file operations.
type TemplateRepository struct {
	root string
	mu   sync.RWMutex
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(root string) *TemplateRepository {
	return &TemplateRepository{root: root}
}

// List returns paginated and filtered templates with in-memory operations.
func (tr *TemplateRepository) List(_ context.Context, opts persistence.ListTemplatesOptions) (*persistence.TemplateListResult, error) {
	opts, err := persistence.NormalizeListOptions(opts)
	if err != nil {
		return nil, err
	}

	tr.mu.RLock()
	all, err := readDir(tr.root, templatesDir, tr.load)
	tr.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Template, 0, len(all))

	for _, template := range all {
		if opts.OwnerID != "" && template.Owner != opts.OwnerID {
			continue
		}

		if opts.Status != nil && template.Status != *opts.Status {
			continue
		}

		if opts.GroupID != "" && template.TemplateGroupID != opts.GroupID {
			continue
		}

		filtered = append(filtered, template)
	}

	sortTemplates(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &persistence.TemplateListResult{
			Templates:   make([]*models.Template, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	end := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.TemplateListResult{
		Templates:   filtered[opts.Offset:end],
		TotalCount:  totalCount,
		HasNextPage: end < len(filtered),
	}, nil
}

func sortTemplates(templates []*models.Template, sortBy, sortOrder string) {
	sort.SliceStable(templates, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = templates[i].UpdatedAt.Before(templates[j].UpdatedAt)
		case "name":
			less = templates[i].Name < templates[j].Name
		default:
			less = templates[i].CreatedAt.Before(templates[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

// GetByID retrieves a template by its ID from the file system.
func (tr *TemplateRepository) GetByID(_ context.Context, id string) (*models.Template, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return tr.load(id)
}

func (tr *TemplateRepository) load(id string) (*models.Template, error) {
	path, err := entityPath(tr.root, templatesDir, id)
	if err != nil {
		return nil, persistence.NewTemplateError("GetByID", id, err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to fetch template %s: %w", id, err)
	}

	var template models.Template
	if err := json.Unmarshal(body, &template); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}

	return &template, nil
}

// Save saves a template to the file system.
func (tr *TemplateRepository) Save(_ context.Context, template *models.Template) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return tr.save(template)
}

func (tr *TemplateRepository) save(template *models.Template) error {
	path, err := entityPath(tr.root, templatesDir, template.ID)
	if err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	now := time.Now().UTC()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	if err := writeJSON(path, template); err != nil {
		return fmt.Errorf("failed to save template %s: %w", template.ID, err)
	}

	return nil
}

// Delete removes a template from the file system.
func (tr *TemplateRepository) Delete(_ context.Context, id string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	path, err := entityPath(tr.root, templatesDir, id)
	if err != nil {
		return persistence.NewTemplateError("Delete", id, err)
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
		}

		return fmt.Errorf("failed to delete template %s: %w", id, err)
	}

	return nil
}

// GetActiveByGroupID returns the active version of a template group.
func (tr *TemplateRepository) GetActiveByGroupID(ctx context.Context, groupID string) (*models.Template, error) {
	return tr.byGroupAndStatus(ctx, groupID, models.TemplateStatusActive, persistence.ErrActiveTemplateNotFound)
}

// GetDraftByGroupID returns the draft version of a template group.
func (tr *TemplateRepository) GetDraftByGroupID(ctx context.Context, groupID string) (*models.Template, error) {
	return tr.byGroupAndStatus(ctx, groupID, models.TemplateStatusDraft, persistence.ErrDraftTemplateNotFound)
}

func (tr *TemplateRepository) byGroupAndStatus(ctx context.Context, groupID string, status models.TemplateStatus, notFound error) (*models.Template, error) {
	versions, err := tr.GetVersions(ctx, groupID)
	if err != nil {
		return nil, err
	}

	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Status == status {
			return versions[i], nil
		}
	}

	return nil, persistence.NewTemplateGroupError("GetByGroupID", groupID, notFound)
}

// GetVersions returns every version of a group ordered by version number.
func (tr *TemplateRepository) GetVersions(_ context.Context, groupID string) ([]*models.Template, error) {
	tr.mu.RLock()
	all, err := readDir(tr.root, templatesDir, tr.load)
	tr.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	versions := make([]*models.Template, 0)

	for _, template := range all {
		if template.TemplateGroupID == groupID {
			versions = append(versions, template)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions, nil
}

// Activate marks the template active and retires the group's previous active version.
func (tr *TemplateRepository) Activate(_ context.Context, templateID string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	template, err := tr.load(templateID)
	if err != nil {
		return err
	}

	all, err := readDir(tr.root, templatesDir, tr.load)
	if err != nil {
		return err
	}

	for _, other := range all {
		if other.ID == template.ID || other.TemplateGroupID != template.TemplateGroupID || other.Status != models.TemplateStatusActive {
			continue
		}

		other.Status = models.TemplateStatusInactive

		if err := tr.save(other); err != nil {
			return persistence.NewTemplateError("Activate", other.ID, err)
		}
	}

	now := time.Now().UTC()
	template.Status = models.TemplateStatusActive
	template.ActivatedAt = &now

	if err := tr.save(template); err != nil {
		return persistence.NewTemplateError("Activate", template.ID, err)
	}

	return nil
}
