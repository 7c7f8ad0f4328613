package core

import (
	"fmt"
	"strings"
)

// RepositoryName identifies a repository as namespace/name. The namespace
// may be empty.
type RepositoryName struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func ParseRepository(s string) (RepositoryName, error) {
	s = strings.TrimSpace(s)
	var repo RepositoryName
	if i := strings.IndexByte(s, '/'); i >= 0 {
		repo = RepositoryName{Namespace: s[:i], Name: s[i+1:]}
	} else {
		repo = RepositoryName{Name: s}
	}
	if err := repo.Validate(); err != nil {
		return RepositoryName{}, err
	}
	return repo, nil
}

func MustParseRepository(s string) RepositoryName {
	repo, err := ParseRepository(s)
	if err != nil {
		panic(err)
	}
	return repo
}

func (r RepositoryName) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("invalid repository %q: empty name", r.String())
	}
	for _, part := range []string{r.Namespace, r.Name} {
		if part == "_" || strings.ContainsAny(part, "/:\"' \t\n") {
			return fmt.Errorf("invalid repository %q", r.String())
		}
	}
	return nil
}

func (r RepositoryName) String() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "/" + r.Name
}

// Schema is the storage schema holding the repository's checked out tables.
func (r RepositoryName) Schema() string {
	return r.String()
}
