package persistence_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/persistence"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		templateErr := persistence.NewTemplateError("GetByID", "tpl-123", persistence.ErrTemplateNotFound)
		groupErr := persistence.NewTemplateGroupError("CreateDraft", "group-456", persistence.ErrActiveTemplateNotFound)
		instanceErr := persistence.NewInstanceError("Update", "inst-1", persistence.ErrInstanceVersionConflict)

		assert.True(t, persistence.IsTemplateNotFound(templateErr))
		assert.True(t, persistence.IsActiveTemplateNotFound(groupErr))
		assert.True(t, persistence.IsVersionConflict(instanceErr))
		assert.False(t, persistence.IsInstanceNotFound(instanceErr))

		assert.True(t, errors.Is(templateErr, persistence.ErrTemplateNotFound))
		assert.True(t, errors.Is(groupErr, persistence.ErrActiveTemplateNotFound))
	})

	t.Run("template error contains context", func(t *testing.T) {
		err := persistence.NewTemplateError("Activate", "tpl-123", persistence.ErrTemplateNotFound)

		assert.Contains(t, err.Error(), "Activate")
		assert.Contains(t, err.Error(), "tpl-123")
		assert.Contains(t, err.Error(), "template not found")
	})

	t.Run("group error names the group", func(t *testing.T) {
		err := persistence.NewTemplateGroupError("GetDraftByGroupID", "group-456", persistence.ErrDraftTemplateNotFound)

		assert.Contains(t, err.Error(), "group group-456")
		assert.True(t, persistence.IsDraftTemplateNotFound(err))
	})
}

func TestNormalizeListOptions(t *testing.T) {
	t.Parallel()

	opts, err := persistence.NormalizeListOptions(persistence.ListTemplatesOptions{Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, 20, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
	assert.Equal(t, "created_at", opts.SortBy)
	assert.Equal(t, "desc", opts.SortOrder)

	_, err = persistence.NormalizeListOptions(persistence.ListTemplatesOptions{SortBy: "name; DROP TABLE templates; --"})
	assert.ErrorIs(t, err, persistence.ErrInvalidSortField)
}
