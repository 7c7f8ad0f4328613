package op

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/ps"
)

type commitOptions struct {
	comment      string
	provenance   []core.ProvenanceEntry
	snapshotOnly bool
	hash         string
}

type CommitOption func(*commitOptions)

func WithComment(comment string) CommitOption {
	return func(o *commitOptions) { o.comment = comment }
}

func WithProvenance(entries ...core.ProvenanceEntry) CommitOption {
	return func(o *commitOptions) { o.provenance = append(o.provenance, entries...) }
}

// SnapshotOnly stores every table as a full snapshot object.
func SnapshotOnly() CommitOption {
	return func(o *commitOptions) { o.snapshotOnly = true }
}

// WithImageHash gives the new image a precomputed hash instead of deriving
// it from its contents.
func WithImageHash(hash string) CommitOption {
	return func(o *commitOptions) { o.hash = hash }
}

// Commit packages the schema's current state into a new image and moves
// HEAD and latest to it. A repository without images is initialized first.
func (r *Repository) Commit(ctx context.Context, opts ...CommitOption) (core.Image, error) {
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := r.Init(ctx); err != nil {
		return core.Image{}, err
	}

	snap, err := r.catalog().Snapshot()
	if err != nil {
		return core.Image{}, err
	}
	parent, err := r.head(snap)
	if err != nil {
		return core.Image{}, err
	}

	physical, err := r.physicalTables(ctx)
	if err != nil {
		return core.Image{}, err
	}
	layeredTables, err := LayeredTables(ctx, r.Adapter(), r.Schema())
	if err != nil {
		return core.Image{}, err
	}

	tables := make(map[string]core.TableEntry)
	var newObjects []core.Object
	for _, name := range physical {
		entry, obj, err := r.commitTable(ctx, name, parent, o.snapshotOnly)
		if err != nil {
			return core.Image{}, err
		}
		tables[name] = entry
		if obj != nil {
			newObjects = append(newObjects, *obj)
		}
	}
	for name, hash := range layeredTables {
		if _, ok := tables[name]; ok {
			continue
		}
		src, err := snap.Image(r.Name, hash)
		if err != nil {
			return core.Image{}, fmt.Errorf("failed to read layered image of %s: %w", name, err)
		}
		if entry, ok := src.Tables[name]; ok {
			tables[name] = entry
		}
	}

	img, err := r.writeImage(snap, parent, tables, newObjects, o)
	if err != nil {
		return core.Image{}, err
	}

	// re-baseline what was just committed
	for _, name := range physical {
		if err := r.diff.Track(ctx, r.Schema(), name); err != nil {
			return core.Image{}, err
		}
	}
	tracked, err := r.diff.TrackedTables(ctx, r.Schema())
	if err != nil {
		return core.Image{}, err
	}
	for _, name := range tracked {
		if _, ok := tables[name]; !ok {
			if err := r.diff.Untrack(ctx, r.Schema(), name); err != nil {
				return core.Image{}, err
			}
		}
	}
	return img, nil
}

// commitTable builds the entry of one physical table, freezing a new object
// when needed.
func (r *Repository) commitTable(ctx context.Context, name string, parent core.Image, snapshotOnly bool) (core.TableEntry, *core.Object, error) {
	cols, err := r.Adapter().Columns(ctx, r.Schema(), name)
	if err != nil {
		return core.TableEntry{}, nil, err
	}
	prev, inParent := parent.Tables[name]
	tracked, err := r.diff.IsTracked(ctx, r.Schema(), name)
	if err != nil {
		return core.TableEntry{}, nil, err
	}

	if !snapshotOnly && inParent && tracked && prev.Schema.Equal(cols) {
		cs, err := r.diff.Changeset(ctx, r.Schema(), name)
		if err == nil {
			if cs.Len() == 0 {
				return prev, nil, nil
			}
			obj, err := r.diff.Freeze(ctx, cs)
			if err != nil {
				return core.TableEntry{}, nil, err
			}
			entry := core.TableEntry{Schema: prev.Schema, Objects: append(append([]string(nil), prev.Objects...), obj.ID)}
			r.logger.Debug("stored table diff", logging.Table(name), logging.ObjectID(obj.ID))
			return entry, &obj, nil
		}
		r.logger.Debug("falling back to a snapshot", logging.Table(name), zap.Error(err))
	}

	cs, err := r.diff.Snapshot(ctx, r.Schema(), name)
	if err != nil {
		return core.TableEntry{}, nil, err
	}
	obj, err := r.diff.Freeze(ctx, cs)
	if err != nil {
		return core.TableEntry{}, nil, err
	}
	r.logger.Debug("stored table snapshot", logging.Table(name), logging.ObjectID(obj.ID))
	return core.TableEntry{Schema: cols, Objects: []string{obj.ID}}, &obj, nil
}

// writeImage registers objects and the image and moves HEAD and latest, in
// one catalog transaction.
func (r *Repository) writeImage(snap *ps.Snapshot, parent core.Image, tables map[string]core.TableEntry, objs []core.Object, o commitOptions) (core.Image, error) {
	hash := o.hash
	if hash == "" {
		hash = core.ComputeImageHash(parent.Hash, o.comment, o.provenance, tables)
	}
	img := core.Image{
		Hash:       hash,
		ParentID:   parent.Hash,
		CreatedAt:  time.Now().UTC(),
		Comment:    o.comment,
		Provenance: o.provenance,
		Tables:     tables,
	}

	txn, err := r.catalog().BeginTransaction()
	if err != nil {
		return core.Image{}, err
	}
	if err := r.Store().Register(txn, snap, objs...); err != nil {
		return core.Image{}, err
	}
	if snap.HasImage(r.Name, hash) {
		existing, err := snap.Image(r.Name, hash)
		if err != nil {
			return core.Image{}, err
		}
		img = existing
	} else if err := txn.PutImage(r.Name, img); err != nil {
		return core.Image{}, err
	}

	tags, err := snap.Tags(r.Name)
	if err != nil {
		return core.Image{}, err
	}
	tags[core.TagHead] = img.Hash
	tags[core.TagLatest] = img.Hash
	if err := txn.PutTags(r.Name, tags); err != nil {
		return core.Image{}, err
	}

	if _, err := txn.Commit(r.Store().Identity(), fmt.Sprintf("commit %s %s", r.Name, img.Hash[:12])); err != nil {
		return core.Image{}, fmt.Errorf("failed to commit %s: %w", r.Name, err)
	}
	r.logger.Info("committed image", logging.Image(img.Hash), zap.Int("objects", len(objs)))
	return img, nil
}

// CommitTables creates an image from HEAD with the given table entries
// replaced, without reading the engine. Objects new to the catalog are
// registered with it. The tables are not materialized.
func (r *Repository) CommitTables(ctx context.Context, entries map[string]core.TableEntry, objs []core.Object, opts ...CommitOption) (core.Image, error) {
	var o commitOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := r.Init(ctx); err != nil {
		return core.Image{}, err
	}
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return core.Image{}, err
	}
	parent, err := r.head(snap)
	if err != nil {
		return core.Image{}, err
	}

	tables := parent.CloneTables()
	for name, entry := range entries {
		tables[name] = entry
	}
	return r.writeImage(snap, parent, tables, objs, o)
}
