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

	"github.com/lib/pq"

	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/persistence"
)

const instanceColumns = `
	id
  , template_id
  , matter_id
  , contact_id
  , status
  , steps
  , context
  , revision
  , created_at
  , updated_at
`

const uniqueViolation = "23505"

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now
	instance.Revision = 1

	stepsJSON, contextJSON, err := marshalInstance(instance)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO instances (id, template_id, matter_id, contact_id, status, steps, context, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		instance.ID,
		instance.TemplateID,
		instance.MatterID,
		instance.ContactID,
		string(instance.Status),
		stepsJSON,
		contextJSON,
		instance.Revision,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
		}

		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+instanceColumns+" FROM instances WHERE id = $1", id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	return instance, nil
}

func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	where := []string{"TRUE"}
	args := []any{}

	if opts.TemplateID != "" {
		args = append(args, opts.TemplateID)
		where = append(where, fmt.Sprintf("template_id = $%d", len(args)))
	}

	if opts.MatterID != "" {
		args = append(args, opts.MatterID)
		where = append(where, fmt.Sprintf("matter_id = $%d", len(args)))
	}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+instanceColumns+" FROM instances WHERE "+strings.Join(where, " AND ")+" ORDER BY created_at, id",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

// Update is a compare-and-swap on the revision column.
func (r *InstanceRepository) Update(ctx context.Context, instance *models.Instance, expectedRevision int64) error {
	stepsJSON, contextJSON, err := marshalInstance(instance)
	if err != nil {
		return err
	}

	updatedAt := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE instances
		SET status = $1, steps = $2, context = $3, revision = revision + 1, updated_at = $4
		WHERE id = $5 AND revision = $6`,
		string(instance.Status),
		stepsJSON,
		contextJSON,
		updatedAt,
		instance.ID,
		expectedRevision,
	)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := r.GetByID(ctx, instance.ID); err != nil {
			return err
		}

		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceVersionConflict)
	}

	instance.Revision = expectedRevision + 1
	instance.UpdatedAt = updatedAt

	return nil
}

func marshalInstance(instance *models.Instance) ([]byte, []byte, error) {
	stepsJSON, err := json.Marshal(instance.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal steps: %w", err)
	}

	ctx := instance.Context
	if ctx == nil {
		ctx = map[string]any{}
	}

	contextJSON, err := json.Marshal(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal context: %w", err)
	}

	return stepsJSON, contextJSON, nil
}

func scanInstance(row scanner) (*models.Instance, error) {
	var (
		instance              models.Instance
		matterID, contactID   sql.NullString
		status                string
		stepsJSON, contextJSON []byte
	)

	err := row.Scan(
		&instance.ID,
		&instance.TemplateID,
		&matterID,
		&contactID,
		&status,
		&stepsJSON,
		&contextJSON,
		&instance.Revision,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.MatterID = matterID.String
	instance.ContactID = contactID.String
	instance.Status = models.InstanceStatus(status)

	if err := json.Unmarshal(stepsJSON, &instance.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	if err := json.Unmarshal(contextJSON, &instance.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	return &instance, nil
}
