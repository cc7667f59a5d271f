// Package gitrepo wraps the go-git operations the published repository
// sync needs: open/clone, remote configuration, authenticated fetch and
// listing, branch checkout and the peer-wins merge.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gogitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrInvalidURL is returned for remote URLs go-git cannot parse.
var ErrInvalidURL = errors.New("invalid remote url")

// Exists reports whether path holds a git repository that opens and has an
// object database on disk.
func Exists(path string) bool {
	if _, err := git.PlainOpen(path); err != nil {
		return false
	}
	fi, err := os.Stat(filepath.Join(path, git.GitDirName, "objects"))
	return err == nil && fi.IsDir()
}

// Open opens the non-bare repository at path.
func Open(path string) (*git.Repository, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", path, err)
	}
	return r, nil
}

// Clone clones branch of src into dst.
func Clone(ctx context.Context, src, dst, branch string) (*git.Repository, error) {
	r, err := git.PlainCloneContext(ctx, dst, false, &git.CloneOptions{
		URL:           src,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s (branch %s) into %s: %w", src, branch, dst, err)
	}
	return r, nil
}

// ValidateURL checks that url is a usable remote endpoint.
func ValidateURL(url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if _, err := transport.NewEndpoint(url); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidURL, url, err)
	}
	return nil
}

// RemoteURLs returns the configured remotes of r, keyed by name, with their
// first URL.
func RemoteURLs(r *git.Repository) (map[string]string, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, fmt.Errorf("failed to read repository config: %w", err)
	}
	out := make(map[string]string, len(cfg.Remotes))
	for name, rc := range cfg.Remotes {
		url := ""
		if len(rc.URLs) > 0 {
			url = rc.URLs[0]
		}
		out[name] = url
	}
	return out, nil
}

// AddRemote adds remote name pointing at url with the default fetch refspec.
func AddRemote(r *git.Repository, name, url string) error {
	if err := ValidateURL(url); err != nil {
		return err
	}
	if _, err := r.CreateRemote(&gogitconfig.RemoteConfig{Name: name, URLs: []string{url}}); err != nil {
		return fmt.Errorf("failed to add remote %s: %w", name, err)
	}
	return nil
}

// SetRemoteURL replaces the URL of an existing remote.
func SetRemoteURL(r *git.Repository, name, url string) error {
	if err := ValidateURL(url); err != nil {
		return err
	}
	cfg, err := r.Config()
	if err != nil {
		return fmt.Errorf("failed to read repository config: %w", err)
	}
	rc, ok := cfg.Remotes[name]
	if !ok {
		return fmt.Errorf("failed to set url of remote %s: %w", name, git.ErrRemoteNotFound)
	}
	rc.URLs = []string{url}
	if err := r.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to write url of remote %s: %w", name, err)
	}
	return nil
}

// RemoveRemote deletes remote name.
func RemoveRemote(r *git.Repository, name string) error {
	if err := r.DeleteRemote(name); err != nil {
		return fmt.Errorf("failed to remove remote %s: %w", name, err)
	}
	return nil
}

// Fetch fetches every branch of remote into refs/remotes/<remote>/*.
// An up-to-date remote is not an error.
func Fetch(ctx context.Context, r *git.Repository, remote string, auth transport.AuthMethod) error {
	spec := gogitconfig.RefSpec(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", remote))
	err := r.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remote,
		RefSpecs:   []gogitconfig.RefSpec{spec},
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch from remote %s: %w", remote, err)
	}
	return nil
}

// AdvertisedRefs lists the references remote advertises.
func AdvertisedRefs(ctx context.Context, r *git.Repository, remote string, auth transport.AuthMethod) ([]*plumbing.Reference, error) {
	rem, err := r.Remote(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to get remote %s: %w", remote, err)
	}
	refs, err := rem.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		return nil, fmt.Errorf("failed to list refs of remote %s: %w", remote, err)
	}
	return refs, nil
}

// FindAdvertisedRef resolves branch among refs, trying the plain name
// first and then refs/heads/<branch>.
func FindAdvertisedRef(refs []*plumbing.Reference, branch string) (*plumbing.Reference, bool) {
	for _, name := range []plumbing.ReferenceName{
		plumbing.ReferenceName(branch),
		plumbing.NewBranchReferenceName(branch),
	} {
		for _, ref := range refs {
			if ref.Name() == name && ref.Type() == plumbing.HashReference {
				return ref, true
			}
		}
	}
	return nil, false
}

// CheckoutBranch checks out branch. A missing local branch is created from
// refs/remotes/<remote>/<branch>.
func CheckoutBranch(r *git.Repository, branch, remote string) (created bool, err error) {
	w, err := r.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}

	branchRefName := plumbing.NewBranchReferenceName(branch)
	_, err = r.Reference(branchRefName, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		remoteRefName := plumbing.NewRemoteReferenceName(remote, branch)
		start, err := r.Reference(remoteRefName, true)
		if err != nil {
			return false, fmt.Errorf("remote branch %s not found: %w", remoteRefName, err)
		}
		err = w.Checkout(&git.CheckoutOptions{
			Hash:   start.Hash(),
			Branch: branchRefName,
			Create: true,
		})
		if err != nil {
			return false, fmt.Errorf("failed to checkout new branch %s from %s: %w", branch, remoteRefName, err)
		}
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get reference for branch %s: %w", branch, err)
	}

	if err := w.Checkout(&git.CheckoutOptions{Branch: branchRefName, Force: true}); err != nil {
		return false, fmt.Errorf("failed to checkout branch %s: %w", branch, err)
	}
	return false, nil
}

// MergeOutcome describes what MergeTheirs did.
type MergeOutcome int

const (
	// MergeUpToDate means the peer commit was already part of local history.
	MergeUpToDate MergeOutcome = iota
	// MergeFastForward means the branch was moved to the peer commit.
	MergeFastForward
	// MergeCommitted means a two-parent merge commit was created.
	MergeCommitted
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeUpToDate:
		return "up-to-date"
	case MergeFastForward:
		return "fast-forward"
	case MergeCommitted:
		return "merge-commit"
	}
	return "unknown"
}

// MergeOptions configures MergeTheirs.
type MergeOptions struct {
	Message          string
	AuthorName       string
	AuthorEmail      string
	AllowFastForward bool
}

// MergeTheirs merges commit into branch so that the resulting tree is the
// tree of commit. Local changes that diverge from commit are discarded.
// It is a no-op when commit is already in the branch history or has the
// same tree as the branch tip. Otherwise, unless AllowFastForward is set,
// the result is a merge commit whose parents are the local tip and commit.
func MergeTheirs(r *git.Repository, branch string, commit plumbing.Hash, opts MergeOptions) (MergeOutcome, plumbing.Hash, error) {
	branchRefName := plumbing.NewBranchReferenceName(branch)
	localRef, err := r.Reference(branchRefName, true)
	if err != nil {
		return MergeUpToDate, plumbing.ZeroHash, fmt.Errorf("failed to get reference for branch %s: %w", branch, err)
	}
	if localRef.Hash() == commit {
		return MergeUpToDate, commit, nil
	}

	local, err := r.CommitObject(localRef.Hash())
	if err != nil {
		return MergeUpToDate, plumbing.ZeroHash, fmt.Errorf("failed to load local commit %s: %w", localRef.Hash(), err)
	}
	theirs, err := r.CommitObject(commit)
	if err != nil {
		return MergeUpToDate, plumbing.ZeroHash, fmt.Errorf("failed to load commit to merge %s: %w", commit, err)
	}

	contained, err := theirs.IsAncestor(local)
	if err != nil {
		return MergeUpToDate, plumbing.ZeroHash, fmt.Errorf("failed to compare history: %w", err)
	}
	if contained {
		return MergeUpToDate, local.Hash, nil
	}
	// Identical content needs no commit. Without this two nodes would keep
	// merging each other's merge commits.
	if theirs.TreeHash == local.TreeHash {
		return MergeUpToDate, local.Hash, nil
	}

	if opts.AllowFastForward {
		ff, err := local.IsAncestor(theirs)
		if err != nil {
			return MergeUpToDate, plumbing.ZeroHash, fmt.Errorf("failed to compare history: %w", err)
		}
		if ff {
			if err := moveBranch(r, branchRefName, theirs.Hash); err != nil {
				return MergeUpToDate, plumbing.ZeroHash, err
			}
			return MergeFastForward, theirs.Hash, nil
		}
	}

	sig := object.Signature{Name: opts.AuthorName, Email: opts.AuthorEmail, When: time.Now()}
	merge := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      opts.Message,
		TreeHash:     theirs.TreeHash,
		ParentHashes: []plumbing.Hash{local.Hash, theirs.Hash},
	}
	obj := r.Storer.NewEncodedObject()
	if err := merge.Encode(obj); err != nil {
		return MergeUpToDate, plumbing.ZeroHash, fmt.Errorf("failed to encode merge commit: %w", err)
	}
	hash, err := r.Storer.SetEncodedObject(obj)
	if err != nil {
		return MergeUpToDate, plumbing.ZeroHash, fmt.Errorf("failed to store merge commit: %w", err)
	}
	if err := moveBranch(r, branchRefName, hash); err != nil {
		return MergeUpToDate, plumbing.ZeroHash, err
	}
	return MergeCommitted, hash, nil
}

// moveBranch points branch at hash and hard-resets the worktree when the
// branch is checked out.
func moveBranch(r *git.Repository, branch plumbing.ReferenceName, hash plumbing.Hash) error {
	if err := r.Storer.SetReference(plumbing.NewHashReference(branch, hash)); err != nil {
		return fmt.Errorf("failed to update %s: %w", branch, err)
	}

	head, err := r.Head()
	if err != nil || head.Name() != branch {
		return nil
	}
	w, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to reset worktree to %s: %w", hash, err)
	}
	return nil
}
