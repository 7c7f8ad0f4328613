package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/diff"
	"github.com/nickyhof/LayerDB/engine/sqlite"
	"github.com/nickyhof/LayerDB/layered"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/op"
	"github.com/nickyhof/LayerDB/ps"
)

var fruits = core.MustParseRepository("test/fruits")

// newLocal builds a repository on its own engine, catalog and cache.
func newLocal(t *testing.T, name core.RepositoryName, opts ...objects.Option) *op.Repository {
	t.Helper()
	eng, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	catalog, err := ps.NewMemoryPersistence()
	require.NoError(t, err)
	store, err := objects.New(catalog, objects.NewMemoryCache(), opts...)
	require.NoError(t, err)
	return op.NewRepository(name, diff.New(eng, store))
}

func newRemote(t *testing.T, name string) *Remote {
	t.Helper()
	catalog, err := ps.NewMemoryPersistence()
	require.NoError(t, err)
	store, err := objects.New(catalog, objects.NewMemoryCache())
	require.NoError(t, err)
	return New(name, store)
}

func commit(t *testing.T, repo *op.Repository, stmt string) core.Image {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Init(ctx))
	require.NoError(t, repo.Adapter().RunIn(ctx, repo.Schema(), stmt))
	img, err := repo.Commit(ctx)
	require.NoError(t, err)
	return img
}

// seed gives repo the two commits of a small fruit table.
func seed(t *testing.T, repo *op.Repository) core.Image {
	t.Helper()
	commit(t, repo, "CREATE TABLE fruits (fruit_id INTEGER PRIMARY KEY, name TEXT); INSERT INTO fruits VALUES (1, 'pineapple')")
	img := commit(t, repo, "INSERT INTO fruits VALUES (2, 'banana')")
	require.NoError(t, repo.Tag(context.Background(), "v1", img.Hash))
	return img
}

func fruitRows(t *testing.T, repo *op.Repository) [][]any {
	t.Helper()
	res, err := repo.Query(context.Background(), "fruits", layered.Query{})
	require.NoError(t, err)
	return res.Rows
}

func TestPushAndLazyClone(t *testing.T) {
	ctx := context.Background()
	origin := newRemote(t, "origin")
	local := newLocal(t, fruits)
	head := seed(t, local)

	stats, err := Push(ctx, local, origin, core.RepositoryName{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Images)
	assert.Equal(t, 2, stats.Objects)
	assert.Zero(t, stats.Locations)

	up, ok, err := Upstream(local)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ps.Upstream{Remote: "origin", Namespace: "test", Repository: "fruits"}, up)

	remoteSnap, err := origin.Store.Catalog().Snapshot()
	require.NoError(t, err)
	tags, err := remoteSnap.Tags(fruits)
	require.NoError(t, err)
	assert.Equal(t, head.Hash, tags["v1"])
	assert.NotContains(t, tags, core.TagHead)

	cached, err := origin.Store.DownloadedObjects()
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	// nothing left to send
	stats, err = Push(ctx, local, origin, core.RepositoryName{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	clone := newLocal(t, fruits)
	stats, err = Clone(ctx, clone, origin, fruits, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Objects)
	assert.Zero(t, stats.Downloaded)

	downloaded, err := clone.Store().DownloadedObjects()
	require.NoError(t, err)
	assert.Empty(t, downloaded)

	cloneHead, err := clone.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.ZeroHash, cloneHead.Hash)

	_, err = clone.Checkout(ctx, "v1", op.CheckoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1), "pineapple"}, {int64(2), "banana"}}, fruitRows(t, clone))
}

// Objects pushed to external storage and deleted locally remain reachable
// from a lazy clone through their recorded locations.
func TestPushExternalAndCloneWithoutDownload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	origin := newRemote(t, "origin")
	local := newLocal(t, fruits)
	seed(t, local)

	stats, err := Push(ctx, local, origin, core.RepositoryName{}, Options{Handler: objects.NewFileHandler(dir)})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Locations)

	cached, err := origin.Store.DownloadedObjects()
	require.NoError(t, err)
	assert.Empty(t, cached, "external pushes leave the remote cache alone")

	ids, err := local.Store().AllObjects()
	require.NoError(t, err)
	locs, err := local.Store().ExternalLocations(ids)
	require.NoError(t, err)
	assert.Len(t, locs, 2)

	require.NoError(t, local.Delete(ctx))
	_, err = local.Store().Cleanup(ctx, objects.Grace(0))
	require.NoError(t, err)
	downloaded, err := local.Store().DownloadedObjects()
	require.NoError(t, err)
	assert.Empty(t, downloaded)

	clone := newLocal(t, fruits, objects.WithHandler(objects.NewFileHandler("")))
	_, err = Clone(ctx, clone, origin, fruits, Options{})
	require.NoError(t, err)

	downloaded, err = clone.Store().DownloadedObjects()
	require.NoError(t, err)
	assert.Empty(t, downloaded)
	images, err := clone.Images()
	require.NoError(t, err)
	assert.Len(t, images, 3)
	all, err := clone.Store().AllObjects()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	external, err := clone.Store().ExternalLocations(all)
	require.NoError(t, err)
	assert.Len(t, external, 2)

	_, err = clone.Checkout(ctx, "v1", op.CheckoutOptions{})
	require.NoError(t, err)
	assert.Len(t, fruitRows(t, clone), 2)
}

func TestPullFetchesNewImages(t *testing.T) {
	ctx := context.Background()
	origin := newRemote(t, "origin")
	local := newLocal(t, fruits)
	seed(t, local)
	_, err := Push(ctx, local, origin, core.RepositoryName{}, Options{})
	require.NoError(t, err)

	clone := newLocal(t, fruits)
	_, err = Clone(ctx, clone, origin, fruits, Options{DownloadAll: true})
	require.NoError(t, err)

	latest := commit(t, local, "UPDATE fruits SET name = 'mango' WHERE fruit_id = 1")
	_, err = Push(ctx, local, origin, core.RepositoryName{}, Options{})
	require.NoError(t, err)

	stats, err := Pull(ctx, clone, origin, Options{DownloadAll: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Images)
	assert.Equal(t, 1, stats.Objects)
	assert.Equal(t, 1, stats.Downloaded)

	img, err := clone.Resolve(ctx, core.TagLatest)
	require.NoError(t, err)
	assert.Equal(t, latest.Hash, img.Hash)
}

func TestPushToRenamedTarget(t *testing.T) {
	ctx := context.Background()
	origin := newRemote(t, "origin")
	local := newLocal(t, fruits)
	seed(t, local)

	target := core.MustParseRepository("shared/produce")
	_, err := Push(ctx, local, origin, target, Options{})
	require.NoError(t, err)

	snap, err := origin.Store.Catalog().Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.RepositoryExists(target))
	assert.False(t, snap.RepositoryExists(fruits))

	// later pushes follow the upstream
	commit(t, local, "DELETE FROM fruits WHERE fruit_id = 2")
	stats, err := Push(ctx, local, origin, core.RepositoryName{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Images)
}

func TestPullWithoutUpstream(t *testing.T) {
	local := newLocal(t, fruits)
	seed(t, local)

	_, err := Pull(context.Background(), local, newRemote(t, "origin"), Options{})
	assert.True(t, errors.Is(err, ErrNoUpstream))
}

func TestOpenDiskRemote(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local := newLocal(t, fruits)
	seed(t, local)

	disk, err := Open("disk", dir)
	require.NoError(t, err)
	_, err = Push(ctx, local, disk, core.RepositoryName{}, Options{})
	require.NoError(t, err)

	reopened, err := Open("disk", dir)
	require.NoError(t, err)
	snap, err := reopened.Store.Catalog().Snapshot()
	require.NoError(t, err)
	hashes, err := snap.ImageHashes(fruits)
	require.NoError(t, err)
	assert.Len(t, hashes, 3)

	registry := NewRegistry(disk)
	got, err := registry.Get("disk")
	require.NoError(t, err)
	assert.Same(t, disk, got)
	_, err = registry.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownRemote)
}
