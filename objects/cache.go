package objects

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/go-git/go-billy/v6/osfs"
	"github.com/go-git/go-billy/v6/util"
	"github.com/klauspost/compress/zstd"

	"github.com/nickyhof/LayerDB/core"
)

const tmpMarker = ".tmp-"

// NewMemoryCache returns an in-memory payload cache.
func NewMemoryCache() billy.Filesystem {
	return memfs.New()
}

// NewDiskCache returns a payload cache rooted at dir.
func NewDiskCache(dir string) billy.Filesystem {
	return osfs.New(dir)
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func compress(payload []byte) []byte {
	return encoder.EncodeAll(payload, nil)
}

// decompress inflates data and checks it hashes to id.
func decompress(id string, data []byte) ([]byte, error) {
	payload, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if core.HashBytes(payload) != id {
		return nil, ErrCorrupt
	}
	return payload, nil
}

func cachePath(id string) string {
	if len(id) < 2 {
		return id
	}
	return path.Join(id[:2], id)
}

// writeCache stores compressed data atomically: readers see either nothing
// or the complete payload.
func writeCache(fs billy.Filesystem, id string, data []byte) error {
	final := cachePath(id)
	dir := path.Dir(final)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := util.TempFile(fs, dir, id+tmpMarker)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = fs.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmp.Name())
		return err
	}
	return fs.Rename(tmp.Name(), final)
}

func readCache(fs billy.Filesystem, id string) ([]byte, error) {
	f, err := fs.Open(cachePath(id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, ErrNotCached)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func isCached(fs billy.Filesystem, id string) bool {
	_, err := fs.Stat(cachePath(id))
	return err == nil
}

type cachedPayload struct {
	id      string
	modTime time.Time
	temp    bool
	path    string
}

// listCache walks the two-level cache layout.
func listCache(fs billy.Filesystem) ([]cachedPayload, error) {
	shards, err := fs.ReadDir("/")
	if err != nil {
		// Cache not created yet
		return nil, nil
	}

	var out []cachedPayload
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		entries, err := fs.ReadDir(shard.Name())
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			p := path.Join(shard.Name(), entry.Name())
			info, err := fs.Stat(p)
			if err != nil {
				continue
			}
			name := entry.Name()
			temp := strings.Contains(name, tmpMarker)
			if temp {
				name = name[:strings.Index(name, tmpMarker)]
			}
			out = append(out, cachedPayload{id: name, modTime: info.ModTime(), temp: temp, path: p})
		}
	}
	return out, nil
}
