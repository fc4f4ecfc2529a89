package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/persistence"
)

const templateColumns = `
	id
  , template_group_id
  , version
  , name
  , description
  , status
  , steps
  , dependencies
  , metadata
  , owner
  , created_at
  , updated_at
  , activated_at
`

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

// List returns one page of templates. The sort column comes from an allowlist.
func (r *TemplateRepository) List(ctx context.Context, opts persistence.ListTemplatesOptions) (*persistence.TemplateListResult, error) {
	opts, err := persistence.NormalizeListOptions(opts)
	if err != nil {
		return nil, err
	}

	where := []string{"deleted_at IS NULL"}
	args := []any{}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	if opts.GroupID != "" {
		args = append(args, opts.GroupID)
		where = append(where, fmt.Sprintf("template_group_id = $%d", len(args)))
	}

	filter := strings.Join(where, " AND ")

	var total int64

	err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM templates WHERE "+filter, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count templates: %w", err)
	}

	order := "DESC"
	if opts.SortOrder == "asc" {
		order = "ASC"
	}

	query := fmt.Sprintf("SELECT %s FROM templates WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d",
		templateColumns, filter, opts.SortBy, order, len(args)+1, len(args)+2)

	templates, err := r.query(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, err
	}

	return &persistence.TemplateListResult{
		Templates:   templates,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(templates)) < total,
	}, nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE id = $1 AND deleted_at IS NULL", id)

	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTemplateError("GetByID", id, persistence.ErrTemplateNotFound)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

// Save upserts a template.
func (r *TemplateRepository) Save(ctx context.Context, template *models.Template) error {
	now := time.Now().UTC()

	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	template.UpdatedAt = now

	stepsJSON, err := json.Marshal(template.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	dependenciesJSON, err := json.Marshal(template.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}

	metadataJSON, err := json.Marshal(template.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO templates (id, template_group_id, version, name, description, status,
			steps, dependencies, metadata, owner, created_at, updated_at, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			template_group_id = EXCLUDED.template_group_id,
			version = EXCLUDED.version,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			steps = EXCLUDED.steps,
			dependencies = EXCLUDED.dependencies,
			metadata = EXCLUDED.metadata,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at,
			activated_at = EXCLUDED.activated_at,
			deleted_at = NULL
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.TemplateGroupID,
		template.Version,
		template.Name,
		template.Description,
		string(template.Status),
		stepsJSON,
		dependenciesJSON,
		metadataJSON,
		template.Owner,
		template.CreatedAt,
		template.UpdatedAt,
		template.ActivatedAt,
	)
	if err != nil {
		return persistence.NewTemplateError("Save", template.ID, err)
	}

	return nil
}

// Delete soft deletes a template by setting deleted_at timestamp.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE templates SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewTemplateError("Delete", id, persistence.ErrTemplateNotFound)
	}

	return nil
}

func (r *TemplateRepository) GetActiveByGroupID(ctx context.Context, groupID string) (*models.Template, error) {
	return r.byGroupAndStatus(ctx, groupID, models.TemplateStatusActive, persistence.ErrActiveTemplateNotFound)
}

func (r *TemplateRepository) GetDraftByGroupID(ctx context.Context, groupID string) (*models.Template, error) {
	return r.byGroupAndStatus(ctx, groupID, models.TemplateStatusDraft, persistence.ErrDraftTemplateNotFound)
}

func (r *TemplateRepository) byGroupAndStatus(ctx context.Context, groupID string, status models.TemplateStatus, notFound error) (*models.Template, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+` FROM templates
		WHERE template_group_id = $1 AND status = $2 AND deleted_at IS NULL
		ORDER BY version DESC LIMIT 1`, groupID, string(status))

	template, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTemplateGroupError("GetByGroupID", groupID, notFound)
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

func (r *TemplateRepository) GetVersions(ctx context.Context, groupID string) ([]*models.Template, error) {
	return r.query(ctx,
		"SELECT "+templateColumns+` FROM templates
		WHERE template_group_id = $1 AND deleted_at IS NULL
		ORDER BY version ASC`, groupID)
}

// Activate retires the group's active version and activates templateID in one transaction.
func (r *TemplateRepository) Activate(ctx context.Context, templateID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var groupID string

	err = tx.QueryRowContext(ctx,
		`SELECT template_group_id FROM templates WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, templateID).Scan(&groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewTemplateError("Activate", templateID, persistence.ErrTemplateNotFound)
		}

		return fmt.Errorf("failed to lock template: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE templates SET status = 'inactive', updated_at = NOW()
		WHERE template_group_id = $1 AND status = 'active' AND id <> $2 AND deleted_at IS NULL`,
		groupID, templateID)
	if err != nil {
		return fmt.Errorf("failed to retire active version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE templates SET status = 'active', activated_at = NOW(), updated_at = NOW()
		WHERE id = $1`, templateID)
	if err != nil {
		return fmt.Errorf("failed to activate template: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *TemplateRepository) query(ctx context.Context, query string, args ...any) ([]*models.Template, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.Template, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func scanTemplate(row scanner) (*models.Template, error) {
	var (
		template                                   models.Template
		status                                     string
		stepsJSON, dependenciesJSON, metadataJSON []byte
		owner                                      sql.NullString
		activatedAt                                sql.NullTime
	)

	err := row.Scan(
		&template.ID,
		&template.TemplateGroupID,
		&template.Version,
		&template.Name,
		&template.Description,
		&status,
		&stepsJSON,
		&dependenciesJSON,
		&metadataJSON,
		&owner,
		&template.CreatedAt,
		&template.UpdatedAt,
		&activatedAt,
	)
	if err != nil {
		return nil, err
	}

	template.Status = models.TemplateStatus(status)
	template.Owner = owner.String

	if activatedAt.Valid {
		activated := activatedAt.Time
		template.ActivatedAt = &activated
	}

	if err := json.Unmarshal(stepsJSON, &template.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(dependenciesJSON, &template.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &template.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &template, nil
}
