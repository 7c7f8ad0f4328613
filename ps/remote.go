package ps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	"github.com/go-git/go-git/v6/plumbing/transport/ssh"
)

// DefaultRemote is used when no catalog remote is named.
const DefaultRemote = "origin"

// AuthType selects how RemoteAuth authenticates.
type AuthType string

const (
	AuthTypeNone  AuthType = "none"
	AuthTypeToken AuthType = "token"
	AuthTypeSSH   AuthType = "ssh"
	AuthTypeBasic AuthType = "basic"
)

// RemoteAuth holds the credentials for mirroring the catalog.
type RemoteAuth struct {
	Type       AuthType
	Token      string
	KeyPath    string // defaults to ~/.ssh/id_rsa
	Passphrase string
	Username   string
	Password   string
}

// Remote is a git remote the catalog is mirrored to.
type Remote struct {
	Name string
	URLs []string
}

func (auth *RemoteAuth) transportAuth() (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}
	switch auth.Type {
	case AuthTypeNone, "":
		return nil, nil
	case AuthTypeToken:
		// hosts accept any non-empty user with a token
		return &http.BasicAuth{Username: "git", Password: auth.Token}, nil
	case AuthTypeBasic:
		return &http.BasicAuth{Username: auth.Username, Password: auth.Password}, nil
	case AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			home, _ := os.UserHomeDir()
			keyPath = filepath.Join(home, ".ssh", "id_rsa")
		}
		return ssh.NewPublicKeysFromFile("git", keyPath, auth.Passphrase)
	}
	return nil, fmt.Errorf("unknown auth type: %s", auth.Type)
}

func orDefault(name string) string {
	if name == "" {
		return DefaultRemote
	}
	return name
}

func (p *Persistence) AddRemote(name, url string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if _, err := p.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}}); err != nil {
		return fmt.Errorf("failed to add remote '%s': %w", name, err)
	}
	return nil
}

// ListRemotes returns the configured remotes sorted by name.
func (p *Persistence) ListRemotes() ([]Remote, error) {
	if err := p.ensureInitialized(); err != nil {
		return nil, err
	}
	remotes, err := p.repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("failed to list remotes: %w", err)
	}
	out := make([]Remote, 0, len(remotes))
	for _, r := range remotes {
		out = append(out, Remote{Name: r.Config().Name, URLs: r.Config().URLs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Persistence) RemoveRemote(name string) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	if err := p.repo.DeleteRemote(name); err != nil {
		return fmt.Errorf("failed to remove remote '%s': %w", name, err)
	}
	return nil
}

// Push mirrors the catalog branch (the current one when empty) to a remote.
func (p *Persistence) Push(remoteName, branch string, auth *RemoteAuth) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	remoteName = orDefault(remoteName)
	if branch == "" {
		branch = p.branch().Short()
	}
	method, err := auth.transportAuth()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	err = p.repo.Push(&git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
		Auth:       method,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push to '%s': %w", remoteName, err)
	}
	return nil
}

// Fetch updates the remote-tracking refs without touching the catalog.
func (p *Persistence) Fetch(remoteName string, auth *RemoteAuth) error {
	if err := p.ensureInitialized(); err != nil {
		return err
	}
	remoteName = orDefault(remoteName)
	method, err := auth.transportAuth()
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	err = p.repo.Fetch(&git.FetchOptions{RemoteName: remoteName, Auth: method})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch from '%s': %w", remoteName, err)
	}
	return nil
}

// Pull fetches a remote and fast-forwards the catalog to it. A diverged
// catalog is reported as ErrConflict; catalogs are never merged.
func (p *Persistence) Pull(remoteName, branch string, auth *RemoteAuth) error {
	remoteName = orDefault(remoteName)
	if branch == "" {
		branch = p.branch().Short()
	}
	if err := p.Fetch(remoteName, auth); err != nil {
		return err
	}

	tracking, err := p.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return fmt.Errorf("remote branch %s/%s: %w", remoteName, branch, ErrNotFound)
	}
	theirs, err := p.repo.CommitObject(tracking.Hash())
	if err != nil {
		return fmt.Errorf("failed to read remote commit: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ours, err := p.head()
	if err != nil {
		return err
	}
	if ours != nil {
		if ours.Hash == theirs.Hash {
			return nil
		}
		behind, err := ours.IsAncestor(theirs)
		if err != nil {
			return fmt.Errorf("failed to compare histories: %w", err)
		}
		if !behind {
			return fmt.Errorf("%w: catalog has diverged from '%s'", ErrConflict, remoteName)
		}
	}

	if err := p.repo.Storer.SetReference(plumbing.NewHashReference(p.branch(), theirs.Hash)); err != nil {
		return fmt.Errorf("failed to fast-forward catalog: %w", err)
	}
	return nil
}
