package LayerDB

import (
	"context"
	"testing"

	"github.com/nickyhof/LayerDB/config"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/layered"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/op"
	"github.com/nickyhof/LayerDB/ps"
	"github.com/nickyhof/LayerDB/remote"
)

var fruits = core.MustParseRepository("test/fruits")

func openMemory(t *testing.T) *Instance {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("XDG_DATA_HOME", home)

	inst, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("Failed to open instance: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func run(t *testing.T, repo *op.Repository, stmt string) {
	t.Helper()
	ctx := context.Background()
	if err := repo.Init(ctx); err != nil {
		t.Fatalf("Failed to init %s: %v", repo.Name, err)
	}
	if err := repo.Adapter().RunIn(ctx, repo.Schema(), stmt); err != nil {
		t.Fatalf("Failed to run %q: %v", stmt, err)
	}
}

func commit(t *testing.T, repo *op.Repository, stmt string) core.Image {
	t.Helper()
	run(t, repo, stmt)
	img, err := repo.Commit(context.Background())
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	return img
}

func query(t *testing.T, repo *op.Repository, table string) [][]any {
	t.Helper()
	res, err := repo.Query(context.Background(), table, layered.Query{})
	if err != nil {
		t.Fatalf("Failed to query %s: %v", table, err)
	}
	return res.Rows
}

func assertRows(t *testing.T, got, want [][]any) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if !core.EqualRows(got[i], want[i]) {
			t.Errorf("Row %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func seedFruits(t *testing.T, repo *op.Repository) {
	t.Helper()
	commit(t, repo, `CREATE TABLE fruits (fruit_id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO fruits VALUES (1, 'pineapple')`)
	commit(t, repo, `INSERT INTO fruits VALUES (2, 'banana')`)
}

func TestCommitHistoryCheckout(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	repo := inst.Repository(fruits)
	seedFruits(t, repo)

	log, err := repo.Log(ctx, core.TagHead)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("Expected 3 images, got %d", len(log))
	}
	if log[2].Hash != core.ZeroHash {
		t.Errorf("Expected the oldest image to be the root, got %s", log[2].Hash)
	}

	// oldest first
	expected := [][][]any{
		nil,
		{{int64(1), "pineapple"}},
		{{int64(1), "pineapple"}, {int64(2), "banana"}},
	}
	for i, want := range expected {
		img := log[len(log)-1-i]
		if _, err := repo.Checkout(ctx, img.Hash, op.CheckoutOptions{}); err != nil {
			t.Fatalf("Failed to check out %s: %v", img.Hash, err)
		}
		if i == 0 {
			if _, err := repo.Query(ctx, "fruits", layered.Query{}); err == nil {
				t.Error("Expected no fruits table at the root")
			}
			continue
		}
		assertRows(t, query(t, repo, "fruits"), want)
	}

	repos, err := inst.Repositories()
	if err != nil {
		t.Fatalf("Failed to list repositories: %v", err)
	}
	if len(repos) != 1 || repos[0] != fruits {
		t.Errorf("Expected [%s], got %v", fruits, repos)
	}
}

func TestExternalPushAndLazyClone(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	inst := openMemory(t)
	repo := inst.Repository(fruits)
	seedFruits(t, repo)

	catalog, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create remote catalog: %v", err)
	}
	originStore, err := objects.New(catalog, objects.NewMemoryCache())
	if err != nil {
		t.Fatalf("Failed to create remote store: %v", err)
	}
	origin := remote.New("origin", originStore)

	h, err := inst.Handler(ctx, objects.ProtocolFile, origin)
	if err != nil {
		t.Fatalf("Failed to build handler: %v", err)
	}
	stats, err := remote.Push(ctx, repo, origin, core.RepositoryName{}, remote.Options{
		Handler:       h,
		HandlerParams: map[string]string{"dir": dir},
	})
	if err != nil {
		t.Fatalf("Failed to push: %v", err)
	}
	if stats.Locations != 2 {
		t.Errorf("Expected 2 external locations, got %d", stats.Locations)
	}

	if err := repo.Delete(ctx); err != nil {
		t.Fatalf("Failed to delete repository: %v", err)
	}
	if _, err := inst.Store.Cleanup(ctx, objects.Grace(0)); err != nil {
		t.Fatalf("Failed to clean up: %v", err)
	}

	other := openMemory(t)
	clone := other.Repository(fruits)
	if _, err := remote.Clone(ctx, clone, origin, fruits, remote.Options{}); err != nil {
		t.Fatalf("Failed to clone: %v", err)
	}

	downloaded, err := other.Store.DownloadedObjects()
	if err != nil {
		t.Fatalf("Failed to list downloaded objects: %v", err)
	}
	if len(downloaded) != 0 {
		t.Errorf("Expected no downloaded objects, got %d", len(downloaded))
	}
	all, err := other.Store.AllObjects()
	if err != nil {
		t.Fatalf("Failed to list objects: %v", err)
	}
	external, err := other.Store.ExternalLocations(all)
	if err != nil {
		t.Fatalf("Failed to read locations: %v", err)
	}
	if len(all) != 2 || len(external) != 2 {
		t.Errorf("Expected 2 objects with 2 external locations, got %d and %d", len(all), len(external))
	}

	if _, err := clone.Checkout(ctx, "latest", op.CheckoutOptions{}); err != nil {
		t.Fatalf("Failed to check out clone: %v", err)
	}
	assertRows(t, query(t, clone, "fruits"), [][]any{{int64(1), "pineapple"}, {int64(2), "banana"}})
}

const joinScript = `
FROM test/raw:latest IMPORT readings, cities
SQL {
    CREATE TABLE joined AS
    SELECT r.id, r.city, c.country FROM readings r JOIN cities c ON r.city = c.city
}
`

func TestRebuildAfterSchemaChange(t *testing.T) {
	ctx := context.Background()
	inst := openMemory(t)
	raw := inst.Repository(core.MustParseRepository("test/raw"))
	out := core.MustParseRepository("test/joined")

	commit(t, raw, `
		CREATE TABLE readings (id INTEGER PRIMARY KEY, city TEXT);
		INSERT INTO readings VALUES (1, 'Oslo'), (2, 'Lisbon');
		CREATE TABLE cities (city TEXT PRIMARY KEY, country TEXT);
		INSERT INTO cities VALUES ('Oslo', 'NO'), ('Lisbon', 'PT');`)

	exec := inst.Executor()
	first, err := exec.Run(ctx, joinScript, nil, out)
	if err != nil {
		t.Fatalf("Failed to run build: %v", err)
	}

	commit(t, raw, `
		ALTER TABLE cities ADD COLUMN population INTEGER;
		UPDATE cities SET country = 'Norge', population = 700000 WHERE city = 'Oslo';`)

	second, err := exec.Run(ctx, joinScript, nil, out)
	if err != nil {
		t.Fatalf("Failed to rerun build: %v", err)
	}
	oldHash, newHash := first.Outputs[out.String()], second.Outputs[out.String()]
	if oldHash == newHash {
		t.Fatalf("Expected a new image after the schema change, got %s twice", oldHash)
	}

	joined := inst.Repository(out)
	assertRows(t, query(t, joined, "joined"), [][]any{{int64(1), "Oslo", "Norge"}, {int64(2), "Lisbon", "PT"}})

	if _, err := joined.Checkout(ctx, oldHash, op.CheckoutOptions{}); err != nil {
		t.Fatalf("Failed to check out old image: %v", err)
	}
	assertRows(t, query(t, joined, "joined"), [][]any{{int64(1), "Oslo", "NO"}, {int64(2), "Lisbon", "PT"}})
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)

	open := func() *Instance {
		cfg, err := config.Load("")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
		cfg.DataDir = home
		inst, err := Open(ctx, cfg)
		if err != nil {
			t.Fatalf("Failed to open instance: %v", err)
		}
		return inst
	}

	first := open()
	seedFruits(t, first.Repository(fruits))
	head, err := first.Repository(fruits).Head(ctx)
	if err != nil {
		t.Fatalf("Failed to read head: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Failed to close instance: %v", err)
	}

	second := open()
	defer second.Close()
	repo := second.Repository(fruits)
	img, err := repo.Resolve(ctx, "latest")
	if err != nil {
		t.Fatalf("Failed to resolve latest: %v", err)
	}
	if img.Hash != head.Hash {
		t.Errorf("Expected latest %s, got %s", head.Hash, img.Hash)
	}
	if _, err := repo.Checkout(ctx, img.Hash, op.CheckoutOptions{Force: true}); err != nil {
		t.Fatalf("Failed to check out: %v", err)
	}
	assertRows(t, query(t, repo, "fruits"), [][]any{{int64(1), "pineapple"}, {int64(2), "banana"}})
}
