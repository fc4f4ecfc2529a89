package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/matterflow/pkg/locker"
)

// NewLocker returns an in-process lock for an empty URL or "local", and a
// Redis lock for redis:// or rediss:// URLs.
func NewLocker(ctx context.Context, logger *slog.Logger, lockURL string) (locker.Locker, error) {
	switch {
	case lockURL == "" || lockURL == "local":
		return locker.NewLocal(), nil
	case strings.HasPrefix(lockURL, "redis://"), strings.HasPrefix(lockURL, "rediss://"):
		return locker.NewRedis(ctx, logger, lockURL)
	default:
		return nil, fmt.Errorf("unsupported lock URL: %s", lockURL)
	}
}
