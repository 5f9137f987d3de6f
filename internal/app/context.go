package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dayline/internal/config"
	"dayline/internal/repo"
)

// ResolveOwnerAndConfig picks the active owner and ensures an owner row and
// config exist, seeding defaults when missing. It prefers the override, then
// the single owner already in the database.
func ResolveOwnerAndConfig(ctx context.Context, ownerOverride string, r repo.Repo) (string, *config.Config, error) {
	ownerID := ownerOverride
	if ownerID == "" {
		owners, err := r.ListOwners(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(owners) != 1 {
			return "", nil, fmt.Errorf("owner not specified; use --owner")
		}
		ownerID = owners[0].ID
	}
	seedCfg := config.Default(ownerID)

	if _, err := r.GetOwner(ctx, ownerID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createOwner(ctx, r, ownerID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetOwnerConfig(ctx, ownerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertOwnerConfig(ctx, ownerID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed owner config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Owner.ID = ownerID
	return ownerID, cfg, nil
}

func createOwner(ctx context.Context, r repo.Repo, ownerID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(ownerID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureOwner(ctx, tx, ownerID, "", now); err != nil {
		return fmt.Errorf("ensure owner: %w", err)
	}
	if err := r.UpsertOwnerConfigTx(ctx, tx, ownerID, seedCfg); err != nil {
		return fmt.Errorf("insert owner config: %w", err)
	}
	return tx.Commit()
}
