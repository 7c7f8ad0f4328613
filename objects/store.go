package objects

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-billy/v6"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/ps"
)

const (
	DefaultParallel    = 8
	DefaultGracePeriod = time.Hour
	DefaultMaxRetries  = 3
)

// DefaultIdentity authors catalog transactions made by the store itself.
var DefaultIdentity = core.Identity{Name: "layerdb", Email: "layerdb@localhost"}

// Store keeps object payloads in a local cache and their metadata in the
// catalog.
type Store struct {
	catalog  *ps.Persistence
	cache    billy.Filesystem
	logger   *zap.Logger
	identity core.Identity
	parallel int
	grace    time.Duration

	mu        sync.RWMutex
	handlers  map[string]Handler
	upstreams []*Store

	inflight singleflight.Group
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithIdentity(identity core.Identity) Option {
	return func(s *Store) { s.identity = identity }
}

// WithParallel bounds the number of concurrent per-object transfers.
func WithParallel(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithHandler registers a handler used to download from its protocol's
// recorded locations.
func WithHandler(h Handler) Option {
	return func(s *Store) { s.handlers[h.Protocol()] = h }
}

// WithGracePeriod sets how old an unregistered payload must be before
// Cleanup may remove it.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// New creates a store over a catalog and a payload cache filesystem.
func New(catalog *ps.Persistence, cache billy.Filesystem, opts ...Option) (*Store, error) {
	if catalog == nil {
		return nil, errors.New("objects: nil catalog")
	}
	if cache == nil {
		cache = NewMemoryCache()
	}

	s := &Store{
		catalog:  catalog,
		cache:    cache,
		logger:   zap.NewNop(),
		identity: DefaultIdentity,
		parallel: DefaultParallel,
		grace:    DefaultGracePeriod,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Catalog() *ps.Persistence { return s.catalog }

func (s *Store) Identity() core.Identity { return s.identity }

func (s *Store) Logger() *zap.Logger { return s.logger }

// AddHandler registers a download handler after construction.
func (s *Store) AddHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[h.Protocol()] = h
}

func (s *Store) handler(protocol string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[protocol]
	return h, ok
}

// AddUpstream registers another store that Download may fetch payloads from.
func (s *Store) AddUpstream(up *Store) {
	if up == nil || up == s {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.upstreams {
		if existing == up {
			return
		}
	}
	s.upstreams = append(s.upstreams, up)
}

func (s *Store) upstreamList() []*Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Store(nil), s.upstreams...)
}

// Write stores the canonical payload of object id and returns the size of
// the stored (compressed) form. Rewriting an existing payload refreshes its
// age for the cleanup grace period.
func (s *Store) Write(id string, payload []byte) (int64, error) {
	if core.HashBytes(payload) != id {
		return 0, &core.StorageError{ObjectID: id, Op: "write", Err: ErrCorrupt}
	}
	data := compress(payload)
	if err := writeCache(s.cache, id, data); err != nil {
		return 0, &core.StorageError{ObjectID: id, Op: "write", Err: err}
	}
	return int64(len(data)), nil
}

// ReadPayload returns the verified canonical payload of a cached object.
func (s *Store) ReadPayload(id string) ([]byte, error) {
	data, err := readCache(s.cache, id)
	if err != nil {
		return nil, err
	}
	payload, err := decompress(id, data)
	if err != nil {
		return nil, &core.StorageError{ObjectID: id, Op: "read", Err: err}
	}
	return payload, nil
}

// Load decodes a cached object. It does not download.
func (s *Store) Load(_ context.Context, id string) (core.Changeset, error) {
	payload, err := s.ReadPayload(id)
	if err != nil {
		return core.Changeset{}, err
	}
	cs, err := core.DecodeChangeset(payload)
	if err != nil {
		return core.Changeset{}, &core.StorageError{ObjectID: id, Op: "decode", Err: err}
	}
	return cs, nil
}

func (s *Store) IsCached(id string) bool {
	return isCached(s.cache, id)
}

// Register stages object metadata into txn. Metadata already in snap is
// written back unchanged so that a concurrent cleanup pinned to an older
// catalog state cannot drop it underneath this transaction.
func (s *Store) Register(txn *ps.Txn, snap *ps.Snapshot, objs ...core.Object) error {
	for _, obj := range objs {
		if snap != nil && snap.HasObject(obj.ID) {
			existing, err := snap.Object(obj.ID)
			if err != nil {
				return fmt.Errorf("failed to read object %s: %w", obj.ID, err)
			}
			obj = existing
		}
		if err := txn.PutObject(obj); err != nil {
			return err
		}
	}
	return nil
}

// AllObjects lists every registered object id.
func (s *Store) AllObjects() ([]string, error) {
	snap, err := s.catalog.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.ObjectIDs()
}

// DownloadedObjects lists the ids with a payload in the local cache.
func (s *Store) DownloadedObjects() ([]string, error) {
	payloads, err := listCache(s.cache)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range payloads {
		if !p.temp {
			ids = append(ids, p.id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Objects returns the metadata of the given registered objects.
func (s *Store) Objects(ids []string) ([]core.Object, error) {
	snap, err := s.catalog.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]core.Object, 0, len(ids))
	for _, id := range ids {
		obj, err := snap.Object(id)
		if err != nil {
			return nil, &core.StorageError{ObjectID: id, Op: "lookup", Err: err}
		}
		out = append(out, obj)
	}
	return out, nil
}

// ExternalLocations returns the recorded locations of the given objects.
// Objects without any are omitted.
func (s *Store) ExternalLocations(ids []string) (map[string][]core.Location, error) {
	snap, err := s.catalog.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]core.Location)
	for _, id := range ids {
		locs, err := snap.Locations(id)
		if err != nil {
			return nil, err
		}
		if len(locs) > 0 {
			out[id] = locs
		}
	}
	return out, nil
}

// reachable collects the objects referenced by any image of any repository.
func reachable(snap *ps.Snapshot) (map[string]bool, error) {
	repos, err := snap.Repositories()
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool)
	for _, repo := range repos {
		images, err := snap.Images(repo)
		if err != nil {
			return nil, fmt.Errorf("failed to read images of %s: %w", repo, err)
		}
		for _, img := range images {
			for _, id := range img.ObjectIDs() {
				refs[id] = true
			}
		}
	}
	return refs, nil
}

func (s *Store) log(id string) *zap.Logger {
	return s.logger.With(logging.ObjectID(id))
}
