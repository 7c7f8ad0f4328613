package op

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/logging"
)

// CloneFrom copies the history behind ref in src into r and returns the
// image ref resolves to. Both repositories must share a catalog; objects are
// shared through it, so only image metadata is written. HEAD is not moved.
func (r *Repository) CloneFrom(ctx context.Context, src *Repository, ref string) (core.Image, error) {
	chain, err := src.Log(ctx, ref)
	if err != nil {
		return core.Image{}, err
	}
	if err := r.Init(ctx); err != nil {
		return core.Image{}, err
	}

	snap, err := r.catalog().Snapshot()
	if err != nil {
		return core.Image{}, err
	}
	txn, err := r.catalog().BeginTransaction()
	if err != nil {
		return core.Image{}, err
	}
	copied := 0
	for _, img := range chain {
		if snap.HasImage(r.Name, img.Hash) {
			continue
		}
		if err := txn.PutImage(r.Name, img); err != nil {
			return core.Image{}, err
		}
		copied++
	}
	if copied == 0 {
		txn.Rollback()
		return chain[0], nil
	}

	if _, err := txn.Commit(r.Store().Identity(), fmt.Sprintf("clone %s:%s into %s", src.Name, chain[0].Hash[:12], r.Name)); err != nil {
		return core.Image{}, fmt.Errorf("failed to clone into %s: %w", r.Name, err)
	}
	r.logger.Info("cloned images", logging.Image(chain[0].Hash), zap.String("source", src.Name.String()), zap.Int("images", copied))
	return chain[0], nil
}
