// Package mocks provides testify mocks of the persistence and event bus interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dukex/matterflow/pkg/models"
	"github.com/dukex/matterflow/pkg/persistence"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) TemplateRepository() persistence.TemplateRepository {
	args := m.Called()

	return args.Get(0).(persistence.TemplateRepository)
}

func (m *MockPersistence) InstanceRepository() persistence.InstanceRepository {
	args := m.Called()

	return args.Get(0).(persistence.InstanceRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockTemplateRepository is a mock implementation of persistence.TemplateRepository interface.
type MockTemplateRepository struct {
	mock.Mock
}

func (m *MockTemplateRepository) List(ctx context.Context, opts persistence.ListTemplatesOptions) (*persistence.TemplateListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.TemplateListResult), args.Error(1)
}

func (m *MockTemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockTemplateRepository) Save(ctx context.Context, template *models.Template) error {
	args := m.Called(ctx, template)

	return args.Error(0)
}

func (m *MockTemplateRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockTemplateRepository) GetActiveByGroupID(ctx context.Context, groupID string) (*models.Template, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockTemplateRepository) GetDraftByGroupID(ctx context.Context, groupID string) (*models.Template, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Template), args.Error(1)
}

func (m *MockTemplateRepository) GetVersions(ctx context.Context, groupID string) ([]*models.Template, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Template), args.Error(1)
}

func (m *MockTemplateRepository) Activate(ctx context.Context, templateID string) error {
	args := m.Called(ctx, templateID)

	return args.Error(0)
}

// MockInstanceRepository is a mock implementation of persistence.InstanceRepository interface.
type MockInstanceRepository struct {
	mock.Mock
}

func (m *MockInstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	args := m.Called(ctx, instance)

	return args.Error(0)
}

func (m *MockInstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Instance), args.Error(1)
}

func (m *MockInstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.Instance, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Instance), args.Error(1)
}

func (m *MockInstanceRepository) Update(ctx context.Context, instance *models.Instance, expectedRevision int64) error {
	args := m.Called(ctx, instance, expectedRevision)

	return args.Error(0)
}
