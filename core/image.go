package core

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// ZeroHash is the hash of the synthetic empty root image.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

const (
	// TagLatest always points at the most recently published image.
	TagLatest = "latest"
	// TagHead is the checkout pointer of a repository.
	TagHead = "HEAD"
)

type ProvenanceType string

const (
	ProvenanceImport ProvenanceType = "IMPORT"
	ProvenanceSQL    ProvenanceType = "SQL"
	ProvenanceMount  ProvenanceType = "MOUNT"
	ProvenanceFrom   ProvenanceType = "FROM"
)

// ProvenanceEntry records one source or statement that produced an image.
type ProvenanceEntry struct {
	Type             ProvenanceType `json:"type"`
	SourceNamespace  string         `json:"source_namespace,omitempty"`
	SourceRepository string         `json:"source_repository,omitempty"`
	SourceImage      string         `json:"source_image,omitempty"`
	Statement        string         `json:"statement,omitempty"`
	Tables           []string       `json:"tables,omitempty"`
}

type TableEntry struct {
	Schema  Schema   `json:"schema"`
	Objects []string `json:"objects"`
}

// Image is an immutable snapshot of a repository's tables.
type Image struct {
	Hash       string                `json:"hash"`
	ParentID   string                `json:"parent_id,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	Comment    string                `json:"comment,omitempty"`
	Provenance []ProvenanceEntry     `json:"provenance,omitempty"`
	Tables     map[string]TableEntry `json:"tables"`
}

// TableNames returns the image's tables in sorted order.
func (img Image) TableNames() []string {
	names := make([]string, 0, len(img.Tables))
	for name := range img.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ObjectIDs returns every object referenced by the image.
func (img Image) ObjectIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, name := range img.TableNames() {
		for _, id := range img.Tables[name].Objects {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// CloneTables copies the table map so a child image can extend it.
func (img Image) CloneTables() map[string]TableEntry {
	tables := make(map[string]TableEntry, len(img.Tables))
	for name, entry := range img.Tables {
		tables[name] = TableEntry{
			Schema:  append(Schema(nil), entry.Schema...),
			Objects: append([]string(nil), entry.Objects...),
		}
	}
	return tables
}

// RootImage returns the empty root image.
func RootImage() Image {
	return Image{Hash: ZeroHash, Tables: map[string]TableEntry{}}
}

// ComputeImageHash derives an image hash from its parent, comment,
// provenance and tables. The creation time does not participate.
func ComputeImageHash(parent, comment string, provenance []ProvenanceEntry, tables map[string]TableEntry) string {
	content := struct {
		Parent     string                `json:"parent"`
		Comment    string                `json:"comment"`
		Provenance []ProvenanceEntry     `json:"provenance"`
		Tables     map[string]TableEntry `json:"tables"`
	}{parent, comment, provenance, tables}

	// maps marshal with sorted keys
	data, _ := json.Marshal(content)
	return HashBytes(data)
}

// CombineHashes hashes the concatenation of hex digests.
func CombineHashes(hashes ...string) string {
	return HashBytes([]byte(strings.Join(hashes, "")))
}

// HashString returns the hex sha256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// IsHash reports whether s is a full 64-hex image hash.
func IsHash(s string) bool {
	return len(s) == 64 && IsHexPrefix(s)
}

// IsHexPrefix reports whether s is a non-empty lower-case hex string.
func IsHexPrefix(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
