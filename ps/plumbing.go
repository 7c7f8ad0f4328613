package ps

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/filemode"
	"github.com/go-git/go-git/v6/plumbing/object"

	"github.com/nickyhof/LayerDB/core"
)

// Catalog commits are assembled from blobs and trees straight in the object
// storer. Nothing is ever checked out into a worktree.

// TreeChange sets or removes one path of a catalog tree. Removing a
// directory drops everything below it.
type TreeChange struct {
	Path   string
	Blob   plumbing.Hash
	Delete bool
}

// encoder is implemented by object.Tree and object.Commit.
type encoder interface {
	Encode(plumbing.EncodedObject) error
}

func (p *Persistence) store(kind string, o encoder) (plumbing.Hash, error) {
	obj := p.repo.Storer.NewEncodedObject()
	if err := o.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store %s: %w", kind, err)
	}
	return hash, nil
}

// writeBlob stores one catalog record.
func (p *Persistence) writeBlob(data []byte) (plumbing.Hash, error) {
	obj := p.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))

	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to create blob writer: %w", err)
	}
	_, err = w.Write(data)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to write blob: %w", err)
	}

	hash, err := p.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store blob: %w", err)
	}
	return hash, nil
}

// writeTree stores entries in git order: directories compare as if their
// name ended in a slash.
func (p *Persistence) writeTree(entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	sorted := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e)
	}
	sortKey := func(e object.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(sorted, func(i, j int) bool { return sortKey(sorted[i]) < sortKey(sorted[j]) })
	return p.store("tree", &object.Tree{Entries: sorted})
}

// treeEntries returns the direct children of a tree by name. The zero hash
// is the empty tree.
func (p *Persistence) treeEntries(hash plumbing.Hash) (map[string]object.TreeEntry, error) {
	entries := make(map[string]object.TreeEntry)
	if hash == plumbing.ZeroHash {
		return entries, nil
	}
	tree, err := object.GetTree(p.repo.Storer, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree %s: %w", hash, err)
	}
	for _, e := range tree.Entries {
		entries[e.Name] = e
	}
	return entries, nil
}

// applyChanges rewrites root with changes, touching every subtree once. It
// returns the zero hash when nothing is left.
func (p *Persistence) applyChanges(root plumbing.Hash, changes []TreeChange) (plumbing.Hash, error) {
	if len(changes) == 0 {
		return root, nil
	}
	entries, err := p.treeEntries(root)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	nested := make(map[string][]TreeChange)
	for _, c := range changes {
		dir, rest, ok := strings.Cut(c.Path, "/")
		switch {
		case ok:
			nested[dir] = append(nested[dir], TreeChange{Path: rest, Blob: c.Blob, Delete: c.Delete})
		case c.Delete:
			delete(entries, c.Path)
		default:
			entries[c.Path] = object.TreeEntry{Name: c.Path, Mode: filemode.Regular, Hash: c.Blob}
		}
	}

	for dir, sub := range nested {
		current := plumbing.ZeroHash
		if e, ok := entries[dir]; ok && e.Mode == filemode.Dir {
			current = e.Hash
		}
		updated, err := p.applyChanges(current, sub)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		if updated == plumbing.ZeroHash {
			delete(entries, dir)
			continue
		}
		entries[dir] = object.TreeEntry{Name: dir, Mode: filemode.Dir, Hash: updated}
	}

	if len(entries) == 0 {
		return plumbing.ZeroHash, nil
	}
	return p.writeTree(entries)
}

// head returns the latest catalog commit, or nil for an empty catalog.
func (p *Persistence) head() (*object.Commit, error) {
	ref, err := p.repo.Head()
	if err != nil {
		return nil, nil
	}
	commit, err := p.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog head: %w", err)
	}
	return commit, nil
}

// commitTree records tree as the next catalog transaction after parent
// (nil for the first) and advances the catalog branch.
func (p *Persistence) commitTree(tree plumbing.Hash, parent *object.Commit, identity core.Identity, message string) (Transaction, error) {
	if tree == plumbing.ZeroHash {
		var err error
		if tree, err = p.writeTree(nil); err != nil {
			return Transaction{}, err
		}
	}

	sig := object.Signature{Name: identity.Name, Email: identity.Email, When: time.Now()}
	commit := &object.Commit{
		Author:    sig,
		Committer: sig,
		Message:   message,
		TreeHash:  tree,
	}
	if parent != nil {
		commit.ParentHashes = []plumbing.Hash{parent.Hash}
	}

	hash, err := p.store("commit", commit)
	if err != nil {
		return Transaction{}, err
	}
	if err := p.repo.Storer.SetReference(plumbing.NewHashReference(p.branch(), hash)); err != nil {
		return Transaction{}, fmt.Errorf("failed to advance catalog: %w", err)
	}

	commit.Hash = hash
	return toTransaction(commit), nil
}

// branch returns the branch HEAD points at, master for a fresh catalog.
func (p *Persistence) branch() plumbing.ReferenceName {
	ref, err := p.repo.Storer.Reference(plumbing.HEAD)
	if err == nil && ref.Type() == plumbing.SymbolicReference && ref.Target().IsBranch() {
		return ref.Target()
	}
	return plumbing.Master
}
