package op

import (
	"context"
	"fmt"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/logging"
)

type CheckoutOptions struct {
	// Tables restricts the checkout to these tables of the image. Other
	// tables are removed from the schema.
	Tables []string
	// Lazy leaves tables unmaterialized; queries reconstruct rows from
	// the objects.
	Lazy bool
	// Force discards pending changes.
	Force bool
}

// Checkout replaces the schema's contents with an image and moves HEAD to it.
func (r *Repository) Checkout(ctx context.Context, ref string, opts CheckoutOptions) (core.Image, error) {
	img, err := r.Resolve(ctx, ref)
	if err != nil {
		return core.Image{}, err
	}

	if !opts.Force {
		pending, err := r.diff.HasPending(ctx, r.Schema())
		if err != nil {
			return core.Image{}, err
		}
		if pending {
			return core.Image{}, fmt.Errorf("%w in %s", ErrPendingChanges, r.Name)
		}
	}

	selected := img.TableNames()
	if len(opts.Tables) > 0 {
		selected = nil
		for _, name := range opts.Tables {
			if _, ok := img.Tables[name]; !ok {
				return core.Image{}, &core.SchemaError{Table: name, Msg: "table not in image " + img.Hash[:12]}
			}
			selected = append(selected, name)
		}
	}

	// every payload is local before the schema is touched
	if !opts.Lazy {
		var ids []string
		for _, name := range selected {
			ids = append(ids, img.Tables[name].Objects...)
		}
		if err := r.Store().Download(ctx, ids); err != nil {
			return core.Image{}, err
		}
	}

	if err := r.Adapter().CreateSchema(ctx, r.Schema()); err != nil {
		return core.Image{}, err
	}
	if err := r.clear(ctx); err != nil {
		return core.Image{}, err
	}
	for _, name := range selected {
		t := r.table(name)
		if opts.Lazy {
			err = t.MarkLayered(ctx, img.Hash)
		} else {
			err = t.Materialize(ctx, img.Tables[name])
		}
		if err != nil {
			return core.Image{}, err
		}
	}

	snap, err := r.catalog().Snapshot()
	if err != nil {
		return core.Image{}, err
	}
	if err := r.updateTags(snap, "checkout "+img.Hash[:12], func(tags map[string]string) {
		tags[core.TagHead] = img.Hash
	}); err != nil {
		return core.Image{}, err
	}
	r.logger.Info("checked out image", logging.Image(img.Hash))
	return img, nil
}

// clear drops every physical and layered table of the schema.
func (r *Repository) clear(ctx context.Context) error {
	physical, err := r.physicalTables(ctx)
	if err != nil {
		return err
	}
	layeredTables, err := LayeredTables(ctx, r.Adapter(), r.Schema())
	if err != nil {
		return err
	}
	for name := range layeredTables {
		physical = append(physical, name)
	}
	for _, name := range physical {
		if err := r.table(name).Drop(ctx); err != nil {
			return err
		}
	}
	// baselines of tables dropped outside of LayerDB
	return r.diff.UntrackAll(ctx, r.Schema())
}

// Materialize turns a layered table into a physical one.
func (r *Repository) Materialize(ctx context.Context, table string) error {
	layeredTables, err := LayeredTables(ctx, r.Adapter(), r.Schema())
	if err != nil {
		return err
	}
	hash, ok := layeredTables[table]
	if !ok {
		return nil
	}
	img, err := r.Resolve(ctx, hash)
	if err != nil {
		return err
	}
	return r.table(table).Materialize(ctx, img.Tables[table])
}
