package remote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/op"
	"github.com/nickyhof/LayerDB/ps"
)

// Upstream returns the upstream record of a local repository.
func Upstream(local *op.Repository) (ps.Upstream, bool, error) {
	snap, err := local.Store().Catalog().Snapshot()
	if err != nil {
		return ps.Upstream{}, false, err
	}
	return snap.Upstream(local.Name)
}

// Push sends the images of local that target in rem lacks, with their
// objects and tags. HEAD is never sent. An empty target pushes to the
// upstream repository when its remote is rem, and to local's own name
// otherwise. Payloads go through opts.Handler; for external handlers the
// resulting locations are recorded on both sides. All remote metadata is
// written in one catalog transaction, after which rem becomes local's
// upstream.
func Push(ctx context.Context, local *op.Repository, rem *Remote, target core.RepositoryName, opts Options) (Stats, error) {
	var stats Stats
	if target.Name == "" {
		target = local.Name
		if up, ok, err := Upstream(local); err != nil {
			return stats, err
		} else if ok && up.Remote == rem.Name {
			target = up.RepositoryName()
		}
	}
	log := logger(local.Store(), &opts).With(logging.Repository(local.Name.String()), zap.String("remote", rem.Name))

	localSnap, err := local.Store().Catalog().Snapshot()
	if err != nil {
		return stats, err
	}
	remoteSnap, err := rem.Store.Catalog().Snapshot()
	if err != nil {
		return stats, err
	}
	b, err := missing(localSnap, remoteSnap, local.Name, target, opts.Overwrite)
	if err != nil {
		return stats, err
	}

	if ids := b.objectIDs(); len(ids) > 0 {
		// a lazily cloned repository may not hold every payload
		if err := local.Store().Download(ctx, ids); err != nil {
			return stats, fmt.Errorf("failed to fetch objects before push: %w", err)
		}
		h := opts.Handler
		if h == nil {
			h = objects.DBHandler{Target: rem.Store}
		}
		log.Info("uploading objects", zap.Int("count", len(ids)), zap.String("protocol", h.Protocol()))
		if _, err := local.Store().Upload(ctx, ids, h, opts.HandlerParams); err != nil {
			return stats, fmt.Errorf("failed to upload objects: %w", err)
		}
		if b.locations, err = local.Store().ExternalLocations(ids); err != nil {
			return stats, err
		}
	}

	msg := fmt.Sprintf("push %s: %d image(s), %d object(s)", target, len(b.images), len(b.objects))
	if err := b.apply(rem.Store, target, opts.Overwrite, nil, msg); err != nil {
		return stats, err
	}
	if err := setUpstream(local, ps.Upstream{Remote: rem.Name, Namespace: target.Namespace, Repository: target.Name}); err != nil {
		return stats, err
	}

	stats = Stats{Images: len(b.images), Objects: len(b.objects), Locations: len(b.locations)}
	log.Info("pushed repository", zap.String("target", target.String()), zap.Stringer("stats", stats))
	return stats, nil
}

// Pull fetches new images of local's upstream repository from rem.
func Pull(ctx context.Context, local *op.Repository, rem *Remote, opts Options) (Stats, error) {
	up, ok, err := Upstream(local)
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		return Stats{}, fmt.Errorf("%w for %s", ErrNoUpstream, local.Name)
	}
	if up.Remote != rem.Name {
		return Stats{}, fmt.Errorf("upstream of %s is %s, not %s", local.Name, up.Remote, rem.Name)
	}
	return fetch(ctx, local, rem, up.RepositoryName(), opts)
}

// Clone copies source from rem into local and makes rem its upstream. HEAD
// stays where it is, at the root for a new repository.
func Clone(ctx context.Context, local *op.Repository, rem *Remote, source core.RepositoryName, opts Options) (Stats, error) {
	if err := local.Init(ctx); err != nil {
		return Stats{}, err
	}
	return fetch(ctx, local, rem, source, opts)
}

func fetch(ctx context.Context, local *op.Repository, rem *Remote, source core.RepositoryName, opts Options) (Stats, error) {
	var stats Stats
	log := logger(local.Store(), &opts).With(logging.Repository(local.Name.String()), zap.String("remote", rem.Name))

	remoteSnap, err := rem.Store.Catalog().Snapshot()
	if err != nil {
		return stats, err
	}
	localSnap, err := local.Store().Catalog().Snapshot()
	if err != nil {
		return stats, err
	}
	b, err := missing(remoteSnap, localSnap, source, local.Name, opts.Overwrite)
	if err != nil {
		return stats, err
	}

	up := ps.Upstream{Remote: rem.Name, Namespace: source.Namespace, Repository: source.Name}
	msg := fmt.Sprintf("pull %s from %s: %d image(s), %d object(s)", local.Name, rem.Name, len(b.images), len(b.objects))
	if err := b.apply(local.Store(), local.Name, opts.Overwrite, &up, msg); err != nil {
		return stats, err
	}
	local.Store().AddUpstream(rem.Store)
	stats = Stats{Images: len(b.images), Objects: len(b.objects), Locations: len(b.locations)}

	if opts.DownloadAll {
		images, err := local.Images()
		if err != nil {
			return stats, err
		}
		var needed []string
		for _, img := range images {
			for _, id := range img.ObjectIDs() {
				if !local.Store().IsCached(id) {
					needed = append(needed, id)
				}
			}
		}
		if err := local.Store().Download(ctx, needed); err != nil {
			return stats, err
		}
		stats.Downloaded = len(dedupe(needed))
	}

	log.Info("pulled repository", zap.String("source", source.String()), zap.Stringer("stats", stats))
	return stats, nil
}

func setUpstream(local *op.Repository, up ps.Upstream) error {
	snap, err := local.Store().Catalog().Snapshot()
	if err != nil {
		return err
	}
	if current, ok, err := snap.Upstream(local.Name); err != nil {
		return err
	} else if ok && current == up {
		return nil
	}
	txn, err := local.Store().Catalog().BeginTransaction()
	if err != nil {
		return err
	}
	if err := txn.PutUpstream(local.Name, up); err != nil {
		return err
	}
	if _, err := txn.Commit(local.Store().Identity(), fmt.Sprintf("set upstream of %s to %s:%s", local.Name, up.Remote, up.RepositoryName())); err != nil {
		return fmt.Errorf("failed to set upstream of %s: %w", local.Name, err)
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
