package ps

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// Snapshot is an immutable read view of the catalog at one transaction.
type Snapshot struct {
	txn  Transaction
	tree *object.Tree
}

// TreeEntry represents a directory entry from the Git tree
type TreeEntry struct {
	Name  string
	IsDir bool
}

// Snapshot returns a read view at the current catalog HEAD.
func (p *Persistence) Snapshot() (*Snapshot, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	head, err := p.head()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if head == nil {
		return &Snapshot{}, nil
	}
	return p.snapshotOf(head)
}

// SnapshotAt returns a read view at a past transaction.
func (p *Persistence) SnapshotAt(id string) (*Snapshot, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}
	commit, err := p.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return p.snapshotOf(commit)
}

func (p *Persistence) snapshotOf(commit *object.Commit) (*Snapshot, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	return &Snapshot{txn: toTransaction(commit), tree: tree}, nil
}

// Transaction is the catalog transaction the snapshot was taken at. Its Id
// is empty for an empty catalog.
func (s *Snapshot) Transaction() Transaction {
	return s.txn
}

// ReadFile reads a file from the snapshot.
func (s *Snapshot) ReadFile(filePath string) ([]byte, error) {
	if s.tree == nil {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNotFound)
	}

	file, err := s.tree.File(filePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNotFound)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// Exists reports whether a file exists in the snapshot.
func (s *Snapshot) Exists(filePath string) bool {
	if s.tree == nil {
		return false
	}
	_, err := s.tree.FindEntry(filePath)
	return err == nil
}

// List lists directory entries. A missing directory is empty.
func (s *Snapshot) List(dirPath string) ([]TreeEntry, error) {
	if s.tree == nil {
		return nil, nil
	}

	targetTree := s.tree
	if dirPath != "" && dirPath != "." {
		var err error
		targetTree, err = s.tree.Tree(dirPath)
		if err != nil {
			// Directory doesn't exist = empty
			return nil, nil
		}
	}

	entries := make([]TreeEntry, 0, len(targetTree.Entries))
	for _, entry := range targetTree.Entries {
		entries = append(entries, TreeEntry{
			Name:  entry.Name,
			IsDir: entry.Mode == filemode.Dir,
		})
	}
	return entries, nil
}
