package app

import (
	"context"
	"errors"
	"fmt"

	"gigline/internal/config"
	"gigline/internal/repo"
)

// ResolveConfig loads the marketplace config, preferring a gigline.yml in the
// workspace over the stored copy, and seeds the default if neither exists.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	if cfg, err := config.LoadOptional(workspace); err != nil {
		return nil, err
	} else if cfg != nil {
		if err := r.UpsertMarketplaceConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store marketplace config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := r.GetMarketplaceConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg = config.Default("gigline")
	if err := r.UpsertMarketplaceConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed marketplace config: %w", err)
	}
	return cfg, nil
}
