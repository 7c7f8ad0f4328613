package remote

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/ps"
)

var (
	ErrNoUpstream    = errors.New("no upstream configured")
	ErrUnknownRemote = errors.New("unknown remote")
)

// Remote is another catalog and object cache that repositories are pushed
// to and pulled from. It never materializes tables, so it needs no engine.
type Remote struct {
	Name  string
	Store *objects.Store
}

func New(name string, store *objects.Store) *Remote {
	return &Remote{Name: name, Store: store}
}

// Open opens, or creates, a remote kept on disk: its catalog lives in
// dir/catalog and its payloads in dir/objects.
func Open(name, dir string, opts ...objects.Option) (*Remote, error) {
	catalog, err := ps.NewFilePersistence(filepath.Join(dir, "catalog"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog of remote %s: %w", name, err)
	}
	store, err := objects.New(catalog, objects.NewDiskCache(filepath.Join(dir, "objects")), opts...)
	if err != nil {
		return nil, err
	}
	return New(name, store), nil
}

// Registry resolves remote names recorded in upstreams.
type Registry struct {
	remotes map[string]*Remote
}

func NewRegistry(remotes ...*Remote) *Registry {
	r := &Registry{remotes: make(map[string]*Remote)}
	for _, rem := range remotes {
		r.Add(rem)
	}
	return r
}

func (r *Registry) Add(rem *Remote) {
	r.remotes[rem.Name] = rem
}

func (r *Registry) Get(name string) (*Remote, error) {
	rem, ok := r.remotes[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRemote, name)
	}
	return rem, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.remotes))
	for name := range r.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats counts what a sync transferred.
type Stats struct {
	Images    int
	Objects   int
	Locations int
	// Downloaded counts payloads fetched into the local cache.
	Downloaded int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d image(s), %d object(s), %d location(s)", s.Images, s.Objects, s.Locations)
}

// batch is the metadata one side of a sync is missing.
type batch struct {
	images    []core.Image
	objects   []core.Object
	locations map[string][]core.Location
	tags      map[string]string
}

// missing collects the images of repo in src that dst lacks, with the
// objects those images reference that dst has not registered. With all set
// every image and object is included.
func missing(src, dst *ps.Snapshot, srcRepo, dstRepo core.RepositoryName, all bool) (batch, error) {
	b := batch{locations: make(map[string][]core.Location)}
	images, err := src.Images(srcRepo)
	if err != nil {
		return b, err
	}
	if len(images) == 0 {
		return b, &core.ReferenceError{Ref: core.TagLatest, Repository: srcRepo.String()}
	}

	seen := make(map[string]bool)
	for _, img := range images {
		if !all && dst.HasImage(dstRepo, img.Hash) {
			continue
		}
		b.images = append(b.images, img)
		for _, id := range img.ObjectIDs() {
			if seen[id] || (!all && dst.HasObject(id)) {
				continue
			}
			seen[id] = true
			obj, err := src.Object(id)
			if err != nil {
				return b, &core.StorageError{ObjectID: id, Op: "lookup", Err: err}
			}
			b.objects = append(b.objects, obj)
		}
	}
	sort.Slice(b.objects, func(i, j int) bool { return b.objects[i].ID < b.objects[j].ID })

	for _, obj := range b.objects {
		locs, err := src.Locations(obj.ID)
		if err != nil {
			return b, err
		}
		if len(locs) > 0 {
			b.locations[obj.ID] = locs
		}
	}

	b.tags, err = src.Tags(srcRepo)
	if err != nil {
		return b, err
	}
	delete(b.tags, core.TagHead)
	return b, nil
}

func (b batch) objectIDs() []string {
	ids := make([]string, len(b.objects))
	for i, obj := range b.objects {
		ids[i] = obj.ID
	}
	return ids
}

// apply writes b into repo of store's catalog in one transaction. Tags are
// merged over the existing ones unless overwrite is set; HEAD is kept.
func (b batch) apply(store *objects.Store, repo core.RepositoryName, overwrite bool, upstream *ps.Upstream, message string) error {
	catalog := store.Catalog()
	snap, err := catalog.Snapshot()
	if err != nil {
		return err
	}
	txn, err := catalog.BeginTransaction()
	if err != nil {
		return err
	}
	if err := store.Register(txn, snap, b.objects...); err != nil {
		return err
	}

	for id, locs := range b.locations {
		existing, err := snap.Locations(id)
		if err != nil {
			return err
		}
		if merged, changed := mergeLocations(existing, locs); changed {
			if err := txn.PutLocations(id, merged); err != nil {
				return err
			}
		}
	}

	for _, img := range b.images {
		if err := txn.PutImage(repo, img); err != nil {
			return err
		}
	}

	tags := make(map[string]string)
	if !overwrite {
		if tags, err = snap.Tags(repo); err != nil {
			return err
		}
	} else if existing, err := snap.Tags(repo); err != nil {
		return err
	} else if head, ok := existing[core.TagHead]; ok {
		tags[core.TagHead] = head
	}
	for name, hash := range b.tags {
		tags[name] = hash
	}
	if current, err := snap.Tags(repo); err != nil {
		return err
	} else if !maps.Equal(current, tags) {
		if err := txn.PutTags(repo, tags); err != nil {
			return err
		}
	}

	if upstream != nil {
		if current, ok, err := snap.Upstream(repo); err != nil {
			return err
		} else if !ok || current != *upstream {
			if err := txn.PutUpstream(repo, *upstream); err != nil {
				return err
			}
		}
	}

	if txn.OperationCount() == 0 {
		txn.Rollback()
		return nil
	}
	if _, err := txn.Commit(store.Identity(), message); err != nil {
		return fmt.Errorf("failed to write %s: %w", repo, err)
	}
	return nil
}

func mergeLocations(existing, added []core.Location) ([]core.Location, bool) {
	merged := append([]core.Location(nil), existing...)
	changed := false
	for _, loc := range added {
		known := false
		for _, e := range merged {
			if e.URL == loc.URL {
				known = true
				break
			}
		}
		if !known {
			merged = append(merged, loc)
			changed = true
		}
	}
	return merged, changed
}

func logger(store *objects.Store, opts *Options) *zap.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return store.Logger()
}

// Options control Push, Pull and Clone.
type Options struct {
	// Handler uploads payloads on push. Nil copies them into the remote's
	// cache.
	Handler       objects.Handler
	HandlerParams objects.Params
	// Overwrite re-sends every image and object and replaces the other
	// side's tags.
	Overwrite bool
	// DownloadAll fetches every payload on pull and clone. Otherwise only
	// metadata is transferred and payloads are fetched on first checkout.
	DownloadAll bool
	Logger      *zap.Logger
}
