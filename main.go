package LayerDB

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nickyhof/LayerDB/build"
	"github.com/nickyhof/LayerDB/config"
	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/diff"
	"github.com/nickyhof/LayerDB/engine"
	"github.com/nickyhof/LayerDB/engine/duckdb"
	"github.com/nickyhof/LayerDB/engine/sqlite"
	"github.com/nickyhof/LayerDB/ingest"
	"github.com/nickyhof/LayerDB/logging"
	"github.com/nickyhof/LayerDB/objects"
	"github.com/nickyhof/LayerDB/op"
	"github.com/nickyhof/LayerDB/ps"
	"github.com/nickyhof/LayerDB/remote"
)

// Instance wires an engine, a catalog and an object store together.
type Instance struct {
	Config  *config.Config
	Logger  *zap.Logger
	Catalog *ps.Persistence
	Store   *objects.Store
	Engine  engine.Adapter
	Diff    *diff.Engine
	Sources *ingest.Registry
	Remotes *remote.Registry
}

// Open builds an instance from cfg. In memory mode nothing outlives Close.
func Open(ctx context.Context, cfg *config.Config) (*Instance, error) {
	logger, err := logging.GetLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var (
		catalog *ps.Persistence
		cache   = objects.NewMemoryCache()
	)
	if cfg.Memory() {
		catalog, err = ps.NewMemoryPersistence()
	} else {
		catalog, err = ps.NewFilePersistence(cfg.CatalogDir(), nil)
		cache = objects.NewDiskCache(cfg.ObjectsDir())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	storeOpts := []objects.Option{
		objects.WithLogger(logger),
		objects.WithIdentity(cfg.CoreIdentity()),
		objects.WithGracePeriod(cfg.GC.GracePeriod),
		objects.WithHandler(objects.NewFileHandler("")),
	}
	if s3cfg := cfg.S3Config(); s3cfg != nil {
		h, err := objects.NewS3Handler(ctx, *s3cfg)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, objects.WithHandler(h))
	}
	if cfg.HTTP.URL != "" {
		storeOpts = append(storeOpts, objects.WithHandler(&objects.HTTPHandler{BaseURL: cfg.HTTP.URL, Token: cfg.HTTP.Token}))
	}
	store, err := objects.New(catalog, cache, storeOpts...)
	if err != nil {
		return nil, err
	}

	eng, err := openEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	remotes := remote.NewRegistry()
	for _, name := range cfg.RemoteNames() {
		rem, err := remote.Open(name, cfg.Remotes[name].Dir, objects.WithLogger(logger), objects.WithIdentity(cfg.CoreIdentity()))
		if err != nil {
			_ = eng.Close()
			return nil, err
		}
		remotes.Add(rem)
		// lazily cloned repositories fetch payloads from their remote
		store.AddUpstream(rem.Store)
	}

	return &Instance{
		Config:  cfg,
		Logger:  logger,
		Catalog: catalog,
		Store:   store,
		Engine:  eng,
		Diff:    diff.New(eng, store, diff.WithLogger(logger)),
		Sources: ingest.NewRegistry(ingest.WithLogger(logger), ingest.WithS3Config(cfg.S3Config())),
		Remotes: remotes,
	}, nil
}

// OpenMemory opens an instance that keeps everything in memory.
func OpenMemory(ctx context.Context) (*Instance, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	cfg.DataDir = config.MemoryDir
	cfg.Engine = config.EngineSQLite
	cfg.Remotes = nil
	return Open(ctx, cfg)
}

func openEngine(cfg *config.Config, logger *zap.Logger) (engine.Adapter, error) {
	opts := []engine.Option{engine.WithLogger(logger)}
	switch {
	case cfg.Engine == config.EngineDuckDB && cfg.Memory():
		return duckdb.Open("", opts...)
	case cfg.Engine == config.EngineDuckDB:
		return duckdb.Open(cfg.EnginePath(), opts...)
	case cfg.Memory():
		return sqlite.OpenTemp(opts...)
	default:
		return sqlite.Open(cfg.EnginePath(), opts...)
	}
}

func (i *Instance) Repository(name core.RepositoryName) *op.Repository {
	return op.NewRepository(name, i.Diff, op.WithLogger(i.Logger))
}

// Executor returns a build executor resolving FROM MOUNT through the
// instance's sources.
func (i *Instance) Executor(opts ...build.Option) *build.Executor {
	opts = append([]build.Option{build.WithLogger(i.Logger), build.WithSources(i.Sources)}, opts...)
	return build.New(i.Diff, opts...)
}

// Repositories lists every repository in the catalog.
func (i *Instance) Repositories() ([]core.RepositoryName, error) {
	snap, err := i.Catalog.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Repositories()
}

// Handler builds the upload handler for protocol. The DB protocol copies
// into the cache of remote target.
func (i *Instance) Handler(ctx context.Context, protocol string, target *remote.Remote) (objects.Handler, error) {
	switch protocol {
	case "", objects.ProtocolDB:
		if target == nil {
			return nil, fmt.Errorf("the %s handler needs a remote", objects.ProtocolDB)
		}
		return objects.DBHandler{Target: target.Store}, nil
	case objects.ProtocolFile:
		return objects.NewFileHandler(""), nil
	case objects.ProtocolS3:
		s3cfg := i.Config.S3Config()
		if s3cfg == nil {
			return nil, fmt.Errorf("no s3 bucket configured")
		}
		return objects.NewS3Handler(ctx, *s3cfg)
	case objects.ProtocolHTTP:
		if i.Config.HTTP.URL == "" {
			return nil, fmt.Errorf("no http url configured")
		}
		return &objects.HTTPHandler{BaseURL: i.Config.HTTP.URL, Token: i.Config.HTTP.Token}, nil
	}
	return nil, fmt.Errorf("%w %s", objects.ErrUnknownProtocol, protocol)
}

func (i *Instance) Close() error {
	_ = i.Logger.Sync()
	return i.Engine.Close()
}
