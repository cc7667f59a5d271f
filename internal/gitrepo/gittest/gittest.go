// Package gittest builds throwaway git repositories for tests and serves
// local-path remotes from go-git's in-process upload-pack so tests do not
// depend on a git binary.
package gittest

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/require"
)

var installOnce sync.Once

// UseInProcessTransport routes file:// and plain-path remotes through an
// in-process server. Safe to call from every test.
func UseInProcessTransport() {
	installOnce.Do(func() {
		client.InstallProtocol("file", server.NewServer(workdirLoader{}))
	})
}

// workdirLoader resolves a non-bare working directory to its .git dir.
type workdirLoader struct{}

func (workdirLoader) Load(ep *transport.Endpoint) (storer.Storer, error) {
	e := *ep
	if fi, err := os.Stat(filepath.Join(ep.Path, git.GitDirName)); err == nil && fi.IsDir() {
		e.Path = filepath.Join(ep.Path, git.GitDirName)
	}
	return server.DefaultLoader.Load(&e)
}

// Signature is the author of every test commit.
func Signature() *object.Signature {
	return &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}
}

// Init creates a repository at dir on branch and commits files to it.
func Init(t testing.TB, dir, branch string, files map[string]string) *git.Repository {
	t.Helper()
	r, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	require.NoError(t, err)
	Commit(t, r, files, "initial commit")
	return r
}

// Commit writes files into the worktree of r and commits them on the
// checked-out branch.
func Commit(t testing.TB, r *git.Repository, files map[string]string, msg string) plumbing.Hash {
	t.Helper()
	w, err := r.Worktree()
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	root := w.Filesystem.Root()
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(files[name]), 0o644))
		_, err := w.Add(name)
		require.NoError(t, err)
	}

	hash, err := w.Commit(msg, &git.CommitOptions{Author: Signature(), AllowEmptyCommits: len(files) == 0})
	require.NoError(t, err)
	return hash
}

// Branch checks out name, creating it from HEAD when missing.
func Branch(t testing.TB, r *git.Repository, name string) {
	t.Helper()
	w, err := r.Worktree()
	require.NoError(t, err)

	ref := plumbing.NewBranchReferenceName(name)
	_, err = r.Reference(ref, true)
	create := err != nil
	require.NoError(t, w.Checkout(&git.CheckoutOptions{Branch: ref, Create: create, Force: true}))
}

// Tip returns the commit hash branch points to.
func Tip(t testing.TB, r *git.Repository, branch string) plumbing.Hash {
	t.Helper()
	ref, err := r.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)
	return ref.Hash()
}

// ReadFile returns the content of name in the worktree of r.
func ReadFile(t testing.TB, r *git.Repository, name string) string {
	t.Helper()
	w, err := r.Worktree()
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(w.Filesystem.Root(), name))
	require.NoError(t, err)
	return string(data)
}
