package op

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/ps"
)

// Resolve turns a tag or an unambiguous hash prefix into an image.
func (r *Repository) Resolve(ctx context.Context, ref string) (core.Image, error) {
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return core.Image{}, err
	}
	return r.resolve(snap, ref)
}

func (r *Repository) resolve(snap *ps.Snapshot, ref string) (core.Image, error) {
	tags, err := snap.Tags(r.Name)
	if err != nil {
		return core.Image{}, err
	}
	if hash, ok := tags[ref]; ok {
		return snap.Image(r.Name, hash)
	}

	refErr := &core.ReferenceError{Ref: ref, Repository: r.Name.String()}
	prefix := strings.ToLower(ref)
	if !core.IsHexPrefix(prefix) {
		return core.Image{}, refErr
	}
	hashes, err := snap.ImageHashes(r.Name)
	if err != nil {
		return core.Image{}, err
	}
	var candidates []string
	for _, h := range hashes {
		if strings.HasPrefix(h, prefix) {
			candidates = append(candidates, h)
		}
	}
	switch len(candidates) {
	case 0:
		return core.Image{}, refErr
	case 1:
		return snap.Image(r.Name, candidates[0])
	}
	refErr.Candidates = candidates
	return core.Image{}, refErr
}

// Log returns the chain of images from ref back to the root, newest first.
func (r *Repository) Log(ctx context.Context, ref string) ([]core.Image, error) {
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return nil, err
	}
	img, err := r.resolve(snap, ref)
	if err != nil {
		return nil, err
	}

	chain := []core.Image{img}
	seen := map[string]bool{img.Hash: true}
	for img.ParentID != "" {
		if seen[img.ParentID] {
			return nil, fmt.Errorf("cycle in history of %s at %s", r.Name, img.ParentID)
		}
		seen[img.ParentID] = true
		if img, err = snap.Image(r.Name, img.ParentID); err != nil {
			return nil, fmt.Errorf("failed to read parent image: %w", err)
		}
		chain = append(chain, img)
	}
	return chain, nil
}

// Tags returns the repository's tags, HEAD included.
func (r *Repository) Tags() (map[string]string, error) {
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Tags(r.Name)
}

// TagsOf returns the tags pointing at an image, sorted.
func TagsOf(tags map[string]string, hash string) []string {
	var out []string
	for name, h := range tags {
		if h == hash {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Tag points name at the image ref resolves to.
func (r *Repository) Tag(ctx context.Context, name, ref string) error {
	if name == core.TagHead || name == core.TagLatest {
		return fmt.Errorf("%w: %s", ErrReservedTag, name)
	}
	if name == "" || core.IsHexPrefix(name) {
		return fmt.Errorf("invalid tag name %q", name)
	}
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return err
	}
	img, err := r.resolve(snap, ref)
	if err != nil {
		return err
	}
	return r.updateTags(snap, "tag "+name, func(tags map[string]string) {
		tags[name] = img.Hash
	})
}

func (r *Repository) DeleteTag(ctx context.Context, name string) error {
	if name == core.TagHead || name == core.TagLatest {
		return fmt.Errorf("%w: %s", ErrReservedTag, name)
	}
	snap, err := r.catalog().Snapshot()
	if err != nil {
		return err
	}
	tags, err := snap.Tags(r.Name)
	if err != nil {
		return err
	}
	if _, ok := tags[name]; !ok {
		return &core.ReferenceError{Ref: name, Repository: r.Name.String()}
	}
	return r.updateTags(snap, "untag "+name, func(tags map[string]string) {
		delete(tags, name)
	})
}

func (r *Repository) updateTags(snap *ps.Snapshot, message string, fn func(map[string]string)) error {
	tags, err := snap.Tags(r.Name)
	if err != nil {
		return err
	}
	fn(tags)
	txn, err := r.catalog().BeginTransaction()
	if err != nil {
		return err
	}
	if err := txn.PutTags(r.Name, tags); err != nil {
		return err
	}
	if _, err := txn.Commit(r.Store().Identity(), fmt.Sprintf("%s in %s", message, r.Name)); err != nil {
		return fmt.Errorf("failed to update tags of %s: %w", r.Name, err)
	}
	return nil
}
