// Package persistence provides the storage abstraction for templates and instances.
package persistence

import (
	"context"

	"github.com/dukex/matterflow/pkg/models"
)

type Persistence interface {
	TemplateRepository() TemplateRepository
	InstanceRepository() InstanceRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ListTemplatesOptions filters and paginates template listings.
type ListTemplatesOptions struct {
	Limit     int
	Offset    int
	OwnerID   string
	Status    *models.TemplateStatus
	GroupID   string
	SortBy    string // created_at, updated_at, name
	SortOrder string // asc, desc
}

// TemplateListResult is one page of templates.
type TemplateListResult struct {
	Templates   []*models.Template
	TotalCount  int64
	HasNextPage bool
}

// TemplateRepository stores template versions. Lookups of a missing id return
// an error matching ErrTemplateNotFound.
type TemplateRepository interface {
	List(ctx context.Context, opts ListTemplatesOptions) (*TemplateListResult, error)
	GetByID(ctx context.Context, id string) (*models.Template, error)
	Save(ctx context.Context, template *models.Template) error
	Delete(ctx context.Context, id string) error

	GetActiveByGroupID(ctx context.Context, groupID string) (*models.Template, error)
	GetDraftByGroupID(ctx context.Context, groupID string) (*models.Template, error)
	GetVersions(ctx context.Context, groupID string) ([]*models.Template, error)

	// Activate marks the template active and any other active version of its
	// group inactive, atomically where the backend allows it.
	Activate(ctx context.Context, templateID string) error
}

// ListInstancesOptions filters instance listings. Empty fields match everything.
type ListInstancesOptions struct {
	TemplateID string
	MatterID   string
	Status     models.InstanceStatus
}

// InstanceRepository stores instances with optimistic concurrency on Revision.
type InstanceRepository interface {
	Create(ctx context.Context, instance *models.Instance) error
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	List(ctx context.Context, opts ListInstancesOptions) ([]*models.Instance, error)

	// Update stores instance only if the stored revision equals
	// expectedRevision, then sets instance.Revision to expectedRevision+1.
	// A mismatch returns an error matching ErrInstanceVersionConflict.
	Update(ctx context.Context, instance *models.Instance, expectedRevision int64) error
}
