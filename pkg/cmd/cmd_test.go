package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/matterflow/pkg/eventbus"
	"github.com/dukex/matterflow/pkg/locker"
	"github.com/dukex/matterflow/pkg/persistence/file"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := map[string]string{
		"postgres://user@localhost/matterflow": "postgres",
		"postgresql://localhost/matterflow":    "postgresql",
		"file:///var/lib/matterflow":           "file",
		"./data":                               "file",
	}

	for url, want := range tests {
		assert.Equal(t, want, parsePersistenceProvider(url), url)
	}
}

func TestNewPersistence_File(t *testing.T) {
	root := "file://" + t.TempDir()

	p, err := NewPersistence(context.Background(), slog.Default(), root)
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)
}

func TestNewLocker(t *testing.T) {
	l, err := NewLocker(context.Background(), slog.Default(), "")
	require.NoError(t, err)
	assert.IsType(t, &locker.Local{}, l)

	_, err = NewLocker(context.Background(), slog.Default(), "zookeeper://localhost")
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("memory", "", eventbus.DefaultBreakerConfig(), slog.Default())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", " , ", eventbus.DefaultBreakerConfig(), slog.Default())
	require.Error(t, err)

	_, err = NewEventBus("rabbitmq", "", eventbus.DefaultBreakerConfig(), slog.Default())
	require.Error(t, err)
}
