package objects

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/ps"
)

type cleanupOptions struct {
	dryRun     bool
	maxRetries int
	grace      *time.Duration
}

type CleanupOption func(*cleanupOptions)

// DryRun reports what would be reclaimed without deleting anything.
func DryRun() CleanupOption {
	return func(o *cleanupOptions) { o.dryRun = true }
}

// MaxRetries bounds how often cleanup recomputes reachability after losing
// a race with another catalog writer.
func MaxRetries(n int) CleanupOption {
	return func(o *cleanupOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// Grace overrides the store's grace period for one cleanup.
func Grace(d time.Duration) CleanupOption {
	return func(o *cleanupOptions) { o.grace = &d }
}

// Cleanup garbage-collects objects that no image of any repository
// references, and cached payloads that were never registered. Payloads of
// unreferenced objects go in the same pass; never-registered payloads wait
// out the grace period. It returns the reclaimed object ids.
func (s *Store) Cleanup(ctx context.Context, opts ...CleanupOption) ([]string, error) {
	o := cleanupOptions{maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&o)
	}
	grace := s.grace
	if o.grace != nil {
		grace = *o.grace
	}

	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := s.catalog.Snapshot()
		if err != nil {
			return nil, err
		}
		refs, err := reachable(snap)
		if err != nil {
			return nil, err
		}
		registered, err := snap.ObjectIDs()
		if err != nil {
			return nil, err
		}

		var garbage []string
		for _, id := range registered {
			if !refs[id] {
				garbage = append(garbage, id)
			}
		}

		if o.dryRun {
			orphans, err := s.orphanPayloads(snap, grace)
			if err != nil {
				return nil, err
			}
			return merge(garbage, payloadIDs(orphans)), nil
		}

		if len(garbage) > 0 {
			err := s.deleteMetadata(snap, garbage, "cleanup")
			if errors.Is(err, ps.ErrConflict) {
				s.logger.Info("catalog changed during cleanup, retrying", zap.Int("attempt", attempt+1))
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		removed, err := s.removeOrphans(grace, garbage)
		if err != nil {
			return nil, err
		}
		reclaimed := merge(garbage, removed)
		s.logger.Info("cleanup finished", zap.Int("reclaimed", len(reclaimed)))
		return reclaimed, nil
	}

	return nil, &core.ConsistencyError{Msg: fmt.Sprintf("catalog kept changing during cleanup after %d attempts", o.maxRetries+1)}
}

// DeleteObjects removes objects explicitly. Objects still referenced by an
// image are refused.
func (s *Store) DeleteObjects(ctx context.Context, ids []string) error {
	ids = dedupe(ids)
	for attempt := 0; attempt <= DefaultMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap, err := s.catalog.Snapshot()
		if err != nil {
			return err
		}
		refs, err := reachable(snap)
		if err != nil {
			return err
		}
		var inUse, registered []string
		for _, id := range ids {
			if refs[id] {
				inUse = append(inUse, id)
			} else if snap.HasObject(id) {
				registered = append(registered, id)
			}
		}
		if len(inUse) > 0 {
			return &core.ConsistencyError{ObjectIDs: inUse, Msg: "objects are still referenced by an image"}
		}

		if len(registered) > 0 {
			err := s.deleteMetadata(snap, registered, "delete objects")
			if errors.Is(err, ps.ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
		}
		for _, id := range ids {
			if err := s.removePayload(cachePath(id)); err != nil {
				return &core.StorageError{ObjectID: id, Op: "delete", Err: err}
			}
		}
		return nil
	}
	return &core.ConsistencyError{ObjectIDs: ids, Msg: "catalog kept changing during delete"}
}

// deleteMetadata drops object records in a transaction pinned to snap.
func (s *Store) deleteMetadata(snap *ps.Snapshot, ids []string, message string) error {
	txn, err := s.catalog.BeginTransaction()
	if err != nil {
		return err
	}
	txn.ExpectHead(snap.Transaction().Id)
	for _, id := range ids {
		if err := txn.DeleteObject(id); err != nil {
			return err
		}
	}
	_, err = txn.Commit(s.identity, fmt.Sprintf("%s: %d object(s)", message, len(ids)))
	return err
}

// orphanPayloads returns cached payloads unregistered in snap and older than
// grace, temp files included. A zero grace takes every orphan.
func (s *Store) orphanPayloads(snap *ps.Snapshot, grace time.Duration) ([]cachedPayload, error) {
	payloads, err := listCache(s.cache)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-grace)
	var out []cachedPayload
	for _, p := range payloads {
		if !p.temp && snap.HasObject(p.id) {
			continue
		}
		if grace > 0 && p.modTime.After(cutoff) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// removeOrphans deletes the payloads of unregistered objects, ignoring the
// grace period, and orphan payloads older than grace. It checks against a
// fresh snapshot, so a payload registered after the metadata pass survives.
func (s *Store) removeOrphans(grace time.Duration, unregistered []string) ([]string, error) {
	snap, err := s.catalog.Snapshot()
	if err != nil {
		return nil, err
	}
	orphans, err := s.orphanPayloads(snap, grace)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(orphans))
	for _, p := range orphans {
		seen[p.path] = true
	}
	for _, id := range unregistered {
		p := cachePath(id)
		if seen[p] || snap.HasObject(id) {
			continue
		}
		orphans = append(orphans, cachedPayload{id: id, path: p})
	}
	for _, p := range orphans {
		if err := s.removePayload(p.path); err != nil {
			return nil, &core.StorageError{ObjectID: p.id, Op: "cleanup", Err: err}
		}
		s.log(p.id).Debug("removed payload", zap.Bool("temp", p.temp))
	}
	return payloadIDs(orphans), nil
}

func (s *Store) removePayload(p string) error {
	if _, err := s.cache.Stat(p); err != nil {
		return nil
	}
	return s.cache.Remove(p)
}

func payloadIDs(payloads []cachedPayload) []string {
	var ids []string
	for _, p := range payloads {
		if !p.temp {
			ids = append(ids, p.id)
		}
	}
	return ids
}

func merge(a, b []string) []string {
	out := dedupe(append(append([]string(nil), a...), b...))
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
