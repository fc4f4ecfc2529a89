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

const instancesDir = "instances"

// InstanceRepository handles instance-related file operations. The revision
// check and the write happen under one mutex, so optimistic concurrency only
// holds within a single process.
type InstanceRepository struct {
	root string
	mu   sync.Mutex
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

func (ir *InstanceRepository) Create(_ context.Context, instance *models.Instance) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	path, err := entityPath(ir.root, instancesDir, instance.ID)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	if _, err := os.Stat(path); err == nil {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now
	instance.Revision = 1

	if err := writeJSON(path, instance); err != nil {
		return fmt.Errorf("failed to create instance %s: %w", instance.ID, err)
	}

	return nil
}

func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.Instance, error) {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	return ir.load(id)
}

func (ir *InstanceRepository) load(id string) (*models.Instance, error) {
	path, err := entityPath(ir.root, instancesDir, id)
	if err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to fetch instance %s: %w", id, err)
	}

	var instance models.Instance
	if err := json.Unmarshal(body, &instance); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance %s: %w", id, err)
	}

	return &instance, nil
}

func (ir *InstanceRepository) List(_ context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	ir.mu.Lock()
	all, err := readDir(ir.root, instancesDir, ir.load)
	ir.mu.Unlock()

	if err != nil {
		return nil, err
	}

	instances := make([]*models.Instance, 0, len(all))

	for _, instance := range all {
		if opts.TemplateID != "" && instance.TemplateID != opts.TemplateID {
			continue
		}

		if opts.MatterID != "" && instance.MatterID != opts.MatterID {
			continue
		}

		if opts.Status != "" && instance.Status != opts.Status {
			continue
		}

		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

func (ir *InstanceRepository) Update(_ context.Context, instance *models.Instance, expectedRevision int64) error {
	ir.mu.Lock()
	defer ir.mu.Unlock()

	stored, err := ir.load(instance.ID)
	if err != nil {
		return err
	}

	if stored.Revision != expectedRevision {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceVersionConflict)
	}

	path, err := entityPath(ir.root, instancesDir, instance.ID)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	instance.CreatedAt = stored.CreatedAt
	instance.UpdatedAt = time.Now().UTC()
	instance.Revision = expectedRevision + 1

	if err := writeJSON(path, instance); err != nil {
		instance.Revision = expectedRevision

		return fmt.Errorf("failed to update instance %s: %w", instance.ID, err)
	}

	return nil
}
