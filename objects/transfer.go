package objects

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nickyhof/LayerDB/core"
)

// forEach runs fn for every id with bounded parallelism. Failures are
// collected; they never cancel the remaining ids.
func (s *Store) forEach(ctx context.Context, op string, ids []string, fn func(ctx context.Context, id string) error) error {
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(s.parallel)

	for _, id := range ids {
		g.Go(func() error {
			var err error
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = fn(ctx, id)
			}
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, &core.StorageError{ObjectID: id, Op: op, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs != nil {
		return &TransferError{Op: op, Err: errs}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Download fetches the payloads of ids missing from the cache. Recorded
// external locations are tried first, then upstream stores.
func (s *Store) Download(ctx context.Context, ids []string) error {
	var missing []string
	for _, id := range dedupe(ids) {
		if !s.IsCached(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	locations, err := s.ExternalLocations(missing)
	if err != nil {
		return fmt.Errorf("failed to read object locations: %w", err)
	}

	s.logger.Debug("downloading objects", zap.Int("count", len(missing)))
	return s.forEach(ctx, "download", missing, func(ctx context.Context, id string) error {
		_, err, _ := s.inflight.Do(id, func() (any, error) {
			if s.IsCached(id) {
				return nil, nil
			}
			return nil, s.fetch(ctx, id, locations[id])
		})
		return err
	})
}

func (s *Store) fetch(ctx context.Context, id string, locations []core.Location) error {
	var errs error
	for _, loc := range locations {
		h, ok := s.handler(loc.Protocol)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w %s", ErrUnknownProtocol, loc.Protocol))
			continue
		}
		data, err := h.Get(ctx, loc.URL)
		if err == nil {
			err = s.store(id, data)
		}
		if err == nil {
			s.log(id).Debug("downloaded object", zap.String("url", loc.URL))
			return nil
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", loc.URL, err))
	}

	for _, up := range s.upstreamList() {
		if !up.IsCached(id) {
			continue
		}
		data, err := readCache(up.cache, id)
		if err == nil {
			err = s.store(id, data)
		}
		if err == nil {
			s.log(id).Debug("downloaded object from upstream")
			return nil
		}
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		return errs
	}
	return ErrNoSource
}

// Import verifies a compressed payload received from another store and
// caches it.
func (s *Store) Import(id string, data []byte) error {
	return s.store(id, data)
}

// store verifies compressed data fetched from elsewhere and caches it.
func (s *Store) store(id string, data []byte) error {
	if _, err := decompress(id, data); err != nil {
		return err
	}
	return writeCache(s.cache, id, data)
}

// Upload replicates cached payloads through h. The returned locations are
// the ones newly recorded in the catalog; the DB handler records none.
func (s *Store) Upload(ctx context.Context, ids []string, h Handler, params Params) (map[string]core.Location, error) {
	ids = dedupe(ids)
	external := h.Protocol() != ProtocolDB

	recorded := map[string][]core.Location{}
	if external {
		var err error
		if recorded, err = s.ExternalLocations(ids); err != nil {
			return nil, fmt.Errorf("failed to read object locations: %w", err)
		}
	}

	var (
		mu    sync.Mutex
		added = make(map[string]core.Location)
	)
	uploadErr := s.forEach(ctx, "upload", ids, func(ctx context.Context, id string) error {
		url, err := h.Location(id, params)
		if err != nil {
			return err
		}
		for _, loc := range recorded[id] {
			if loc.URL == url {
				return nil
			}
		}

		exists, err := h.Exists(ctx, url)
		if err != nil {
			return err
		}
		if !exists {
			data, err := readCache(s.cache, id)
			if err != nil {
				return err
			}
			if err := h.Put(ctx, url, data); err != nil {
				return err
			}
			s.log(id).Debug("uploaded object", zap.String("url", url))
		}

		if external {
			mu.Lock()
			added[id] = core.Location{URL: url, Protocol: h.Protocol()}
			mu.Unlock()
		}
		return nil
	})

	if len(added) > 0 {
		if err := s.recordLocations(recorded, added); err != nil {
			return nil, multierr.Append(uploadErr, err)
		}
	}
	return added, uploadErr
}

func (s *Store) recordLocations(existing map[string][]core.Location, added map[string]core.Location) error {
	txn, err := s.catalog.BeginTransaction()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(added))
	for id := range added {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		locs := append(append([]core.Location(nil), existing[id]...), added[id])
		if err := txn.PutLocations(id, locs); err != nil {
			return err
		}
	}
	if _, err := txn.Commit(s.identity, fmt.Sprintf("record %d object location(s)", len(ids))); err != nil {
		return fmt.Errorf("failed to record object locations: %w", err)
	}
	return nil
}
