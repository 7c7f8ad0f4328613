package ps

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/cache"
	"github.com/go-git/go-git/v6/storage"
	"github.com/go-git/go-git/v6/storage/filesystem"
	"github.com/go-git/go-git/v6/storage/memory"
)

var (
	ErrNotInitialized = errors.New("catalog not initialized")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("catalog changed concurrently")
)

// Persistence is the catalog: a git repository where every metadata
// mutation is one commit.
type Persistence struct {
	repo *git.Repository
	// serializes catalog commits
	mu sync.Mutex
}

// IsInitialized reports whether p is backed by a repository.
func (p *Persistence) IsInitialized() bool {
	return p != nil && p.repo != nil
}

func (p *Persistence) ensureInitialized() error {
	if !p.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// NewMemoryPersistence creates an empty catalog that lives as long as the
// process.
func NewMemoryPersistence() (*Persistence, error) {
	repo, err := git.Init(memory.NewStorage(), git.WithWorkTree(memfs.New()))
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}
	return &Persistence{repo: repo}, nil
}

// NewFilePersistence opens the catalog in dir, creating it if needed. With
// a non-nil gitURL a missing catalog is cloned from that URL instead.
func NewFilePersistence(dir string, gitURL *string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	wt := osfs.New(dir)
	dotgit, err := wt.Chroot(".git")
	if err != nil {
		return nil, err
	}
	storer := filesystem.NewStorageWithOptions(dotgit, cache.NewObjectLRUDefault(),
		filesystem.Options{ExclusiveAccess: true})

	repo, err := openCatalog(storer, wt, dotgit, gitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog in %s: %w", dir, err)
	}
	return &Persistence{repo: repo}, nil
}

func openCatalog(storer storage.Storer, wt, dotgit billy.Filesystem, gitURL *string) (*git.Repository, error) {
	if _, err := os.Stat(dotgit.Root()); err == nil {
		return git.Open(storer, wt)
	}
	if gitURL != nil {
		return git.Clone(storer, wt, &git.CloneOptions{URL: *gitURL})
	}
	repo, err := git.Init(storer, git.WithWorkTree(wt))
	if err != nil {
		return nil, err
	}
	// Init leaves .git/config unwritten for a default layout, and
	// clone and push over a local path need it.
	cfg, err := repo.Config()
	if err != nil {
		return nil, err
	}
	if err := repo.SetConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to write catalog config: %w", err)
	}
	return repo, nil
}
