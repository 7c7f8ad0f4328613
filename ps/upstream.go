package ps

import (
	"path"

	"github.com/nickyhof/LayerDB/core"
)

// Upstream records which remote repository a local repository was cloned
// from or last pushed to.
type Upstream struct {
	Remote     string `json:"remote"`
	Namespace  string `json:"namespace"`
	Repository string `json:"repository"`
}

func (u Upstream) RepositoryName() core.RepositoryName {
	return core.RepositoryName{Namespace: u.Namespace, Name: u.Repository}
}

func upstreamPath(repo core.RepositoryName) string {
	return path.Join(repoDir(repo), "upstream")
}

func (tb *Txn) PutUpstream(repo core.RepositoryName, upstream Upstream) error {
	return tb.writeRecord(upstreamPath(repo), upstream)
}

func (tb *Txn) DeleteUpstream(repo core.RepositoryName) error {
	return tb.AddDelete(upstreamPath(repo))
}

// Upstream returns the upstream of a repository and whether one is set.
func (s *Snapshot) Upstream(repo core.RepositoryName) (Upstream, bool, error) {
	if !s.Exists(upstreamPath(repo)) {
		return Upstream{}, false, nil
	}
	var upstream Upstream
	if err := s.readRecord(upstreamPath(repo), &upstream); err != nil {
		return Upstream{}, false, err
	}
	return upstream, true, nil
}
