package app

import (
	"context"
	"fmt"

	"streamwatch/internal/config"
	"streamwatch/internal/storage"
	logx "streamwatch/pkg/logx"
)

// OpenStore opens the configured store without building the rest of the app.
// Administrative commands use it so they work without platform credentials.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}
