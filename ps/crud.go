package ps

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"

	"github.com/nickyhof/LayerDB/core"
)

const (
	repositoriesDir = "repositories"
	objectsDir      = "objects"
	locationsDir    = "locations"

	// stands in for the empty namespace in catalog paths
	noNamespace = "_"
)

func repoDir(repo core.RepositoryName) string {
	ns := repo.Namespace
	if ns == "" {
		ns = noNamespace
	}
	return path.Join(repositoriesDir, ns, repo.Name)
}

func imagePath(repo core.RepositoryName, hash string) string {
	return path.Join(repoDir(repo), "images", hash)
}

func tagsPath(repo core.RepositoryName) string {
	return path.Join(repoDir(repo), "tags")
}

func shard(id string) string {
	if len(id) < 2 {
		return id
	}
	return id[:2]
}

func objectPath(id string) string {
	return path.Join(objectsDir, shard(id), id)
}

func locationsPath(id string) string {
	return path.Join(locationsDir, shard(id), id)
}

func (tb *Txn) writeRecord(filePath string, v any) error {
	data, err := core.MarshalRecord(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filePath, err)
	}
	return tb.AddWrite(filePath, data)
}

func (tb *Txn) PutImage(repo core.RepositoryName, img core.Image) error {
	return tb.writeRecord(imagePath(repo, img.Hash), img)
}

// PutTags replaces the repository's tag map (HEAD included).
func (tb *Txn) PutTags(repo core.RepositoryName, tags map[string]string) error {
	return tb.writeRecord(tagsPath(repo), tags)
}

func (tb *Txn) PutObject(obj core.Object) error {
	return tb.writeRecord(objectPath(obj.ID), obj)
}

// PutLocations replaces the recorded external locations of an object.
func (tb *Txn) PutLocations(id string, locations []core.Location) error {
	if len(locations) == 0 {
		return tb.AddDelete(locationsPath(id))
	}
	return tb.writeRecord(locationsPath(id), locations)
}

// DeleteObject removes an object's metadata and locations.
func (tb *Txn) DeleteObject(id string) error {
	if err := tb.AddDelete(objectPath(id)); err != nil {
		return err
	}
	return tb.AddDelete(locationsPath(id))
}

// DeleteRepository removes every image, tag and upstream of a repository.
func (tb *Txn) DeleteRepository(repo core.RepositoryName) error {
	return tb.AddDelete(repoDir(repo))
}

func (s *Snapshot) readRecord(filePath string, v any) error {
	data, err := s.ReadFile(filePath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return nil
}

// Repositories lists every repository with at least one catalog record.
func (s *Snapshot) Repositories() ([]core.RepositoryName, error) {
	namespaces, err := s.List(repositoriesDir)
	if err != nil {
		return nil, err
	}

	var repos []core.RepositoryName
	for _, ns := range namespaces {
		if !ns.IsDir {
			continue
		}
		names, err := s.List(path.Join(repositoriesDir, ns.Name))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			repo := core.RepositoryName{Namespace: ns.Name, Name: name.Name}
			if ns.Name == noNamespace {
				repo.Namespace = ""
			}
			repos = append(repos, repo)
		}
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].String() < repos[j].String() })
	return repos, nil
}

func (s *Snapshot) RepositoryExists(repo core.RepositoryName) bool {
	entries, _ := s.List(path.Join(repoDir(repo), "images"))
	return len(entries) > 0
}

func (s *Snapshot) ImageHashes(repo core.RepositoryName) ([]string, error) {
	entries, err := s.List(path.Join(repoDir(repo), "images"))
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.Name)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (s *Snapshot) Image(repo core.RepositoryName, hash string) (core.Image, error) {
	var img core.Image
	if err := s.readRecord(imagePath(repo, hash), &img); err != nil {
		return core.Image{}, err
	}
	return img, nil
}

func (s *Snapshot) HasImage(repo core.RepositoryName, hash string) bool {
	return s.Exists(imagePath(repo, hash))
}

// Images returns every image of a repository ordered by creation time.
func (s *Snapshot) Images(repo core.RepositoryName) ([]core.Image, error) {
	hashes, err := s.ImageHashes(repo)
	if err != nil {
		return nil, err
	}
	images := make([]core.Image, 0, len(hashes))
	for _, hash := range hashes {
		img, err := s.Image(repo, hash)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].CreatedAt.Before(images[j].CreatedAt)
	})
	return images, nil
}

// Tags returns the tag map of a repository; empty if it has none.
func (s *Snapshot) Tags(repo core.RepositoryName) (map[string]string, error) {
	tags := make(map[string]string)
	if !s.Exists(tagsPath(repo)) {
		return tags, nil
	}
	if err := s.readRecord(tagsPath(repo), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// ObjectIDs lists every registered object.
func (s *Snapshot) ObjectIDs() ([]string, error) {
	shards, err := s.List(objectsDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, sh := range shards {
		entries, err := s.List(path.Join(objectsDir, sh.Name))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ids = append(ids, e.Name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Snapshot) HasObject(id string) bool {
	return s.Exists(objectPath(id))
}

func (s *Snapshot) Object(id string) (core.Object, error) {
	var obj core.Object
	if err := s.readRecord(objectPath(id), &obj); err != nil {
		return core.Object{}, err
	}
	return obj, nil
}

// Locations returns the external locations recorded for an object.
func (s *Snapshot) Locations(id string) ([]core.Location, error) {
	if !s.Exists(locationsPath(id)) {
		return nil, nil
	}
	var locations []core.Location
	if err := s.readRecord(locationsPath(id), &locations); err != nil {
		return nil, err
	}
	return locations, nil
}
