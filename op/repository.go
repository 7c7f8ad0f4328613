package op

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/diff"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/layered"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/ps"
)

var (
	ErrPendingChanges = errors.New("repository has pending changes")
	ErrReservedTag    = errors.New("tag name is reserved")
)

// Repository is the commit graph of one repository.
type Repository struct {
	Name core.RepositoryName

	diff    *diff.Engine
	layered *layered.Reader
	logger  *zap.Logger
}

type Option func(*Repository)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRepository(name core.RepositoryName, d *diff.Engine, opts ...Option) *Repository {
	r := &Repository{Name: name, diff: d, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logging.Repository(name.String()))
	r.layered = layered.New(d.Store(), layered.WithLogger(r.logger))
	return r
}

func (r *Repository) Schema() string { return r.Name.Schema() }

func (r *Repository) Store() *objects.Store { return r.diff.Store() }

func (r *Repository) Adapter() engine.Adapter { return r.diff.Adapter() }

func (r *Repository) catalog() *ps.Persistence { return r.Store().Catalog() }

func (r *Repository) table(name string) *TableOp {
	return Table(r.diff, r.Schema(), name)
}

// Exists reports whether the repository has any image in the catalog.
func (r *Repository) Exists() (bool, error) {
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return false, err
	}
	return snap.RepositoryExists(r.Name), nil
}

// Init creates the engine schema, the root image and HEAD. It is a no-op
// for an existing repository apart from creating a missing schema.
func (r *Repository) Init(ctx context.Context) error {
	if err := r.Adapter().CreateSchema(ctx, r.Schema()); err != nil {
		return err
	}
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return err
	}
	if snap.RepositoryExists(r.Name) {
		return nil
	}

	txn, err := r.catalog().BeginTransaction()
	if err != nil {
		return err
	}
	if err := txn.PutImage(r.Name, core.RootImage()); err != nil {
		return err
	}
	if err := txn.PutTags(r.Name, map[string]string{core.TagHead: core.ZeroHash}); err != nil {
		return err
	}
	if _, err := txn.Commit(r.Store().Identity(), "init "+r.Name.String()); err != nil {
		return fmt.Errorf("failed to initialize %s: %w", r.Name, err)
	}
	r.logger.Info("initialized repository")
	return nil
}

// Head returns the checked out image.
func (r *Repository) Head(ctx context.Context) (core.Image, error) {
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return core.Image{}, err
	}
	return r.head(snap)
}

func (r *Repository) head(snap *ps.Snapshot) (core.Image, error) {
	tags, err := snap.Tags(r.Name)
	if err != nil {
		return core.Image{}, err
	}
	hash, ok := tags[core.TagHead]
	if !ok {
		return core.Image{}, &core.ReferenceError{Ref: core.TagHead, Repository: r.Name.String()}
	}
	return snap.Image(r.Name, hash)
}

// Images returns every image of the repository ordered by creation time.
func (r *Repository) Images() ([]core.Image, error) {
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Images(r.Name)
}

// Delete removes the repository's images, tags, upstream and engine schema.
// Its objects become garbage.
func (r *Repository) Delete(ctx context.Context) error {
	if err := r.diff.UntrackAll(ctx, r.Schema()); err != nil {
		return err
	}
	layeredTables, err := LayeredTables(ctx, r.Adapter(), r.Schema())
	if err != nil {
		return err
	}
	for table := range layeredTables {
		if err := r.table(table).Unmark(ctx); err != nil {
			return err
		}
	}
	if err := r.Adapter().DeleteSchema(ctx, r.Schema()); err != nil {
		return err
	}

	exists, err := r.Exists()
	if err != nil || !exists {
		return err
	}
	txn, err := r.catalog().BeginTransaction()
	if err != nil {
		return err
	}
	if err := txn.DeleteRepository(r.Name); err != nil {
		return err
	}
	if _, err := txn.Commit(r.Store().Identity(), "delete "+r.Name.String()); err != nil {
		return fmt.Errorf("failed to delete %s: %w", r.Name, err)
	}
	r.logger.Info("deleted repository")
	return nil
}

// physicalTables lists the tables present in the engine schema.
func (r *Repository) physicalTables(ctx context.Context) ([]string, error) {
	exists, err := r.Adapter().SchemaExists(ctx, r.Schema())
	if err != nil || !exists {
		return nil, err
	}
	tables, err := r.Adapter().Tables(ctx, r.Schema())
	if err != nil {
		return nil, err
	}
	sort.Strings(tables)
	return tables, nil
}
