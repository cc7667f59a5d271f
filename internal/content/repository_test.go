package content

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/gitrepo/gittest"
)

func newTestRepository(t *testing.T) *GitRepository {
	t.Helper()
	return NewGitRepository(Layout{
		RepoBase:   t.TempDir(),
		SitesRepos: "sites",
		Sandbox:    "sandbox",
		Published:  "published",
	}, zerolog.Nop())
}

func TestLayout(t *testing.T) {
	l := Layout{RepoBase: "/data", SitesRepos: "sites", Sandbox: "sandbox", Published: "published"}

	assert.Equal(t, filepath.Join("/data", "sites", "editorial"), l.SiteDir("editorial"))
	assert.Equal(t, filepath.Join("/data", "sites", "editorial", "sandbox"), l.SandboxDir("editorial"))
	assert.Equal(t, filepath.Join("/data", "sites", "editorial", "published"), l.PublishedDir("editorial"))
	assert.Equal(t, filepath.Join("/data", "sites", "editorial", "SITE_UUID"), l.UUIDFile("editorial"))
}

func TestRepoFirstCommitID(t *testing.T) {
	g := newTestRepository(t)
	ctx := context.Background()

	assert.Empty(t, g.RepoFirstCommitID(ctx, "editorial"), "missing sandbox")

	r := gittest.Init(t, g.Layout().SandboxDir("editorial"), "master", map[string]string{"a.xml": "a"})
	root := gittest.Tip(t, r, "master")
	gittest.Commit(t, r, map[string]string{"b.xml": "b"}, "second")

	assert.Equal(t, root.String(), g.RepoFirstCommitID(ctx, "editorial"))
}

func TestContentExistsAndGet(t *testing.T) {
	g := newTestRepository(t)
	ctx := context.Background()
	gittest.Init(t, g.Layout().SandboxDir("editorial"), "master", map[string]string{
		"site/website/index.xml": "<page>home</page>",
	})

	assert.True(t, g.ContentExists(ctx, "editorial", "site/website/index.xml"))
	assert.False(t, g.ContentExists(ctx, "editorial", "site/website/missing.xml"))
	assert.False(t, g.ContentExists(ctx, "other", "site/website/index.xml"))

	rc, err := g.GetContent(ctx, "editorial", "site/website/index.xml")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<page>home</page>", string(data))

	_, err = g.GetContent(ctx, "editorial", "nope.xml")
	assert.ErrorIs(t, err, ErrContentNotFound)
}

func TestCommitsSince(t *testing.T) {
	g := newTestRepository(t)
	ctx := context.Background()
	r := gittest.Init(t, g.Layout().SandboxDir("editorial"), "master", map[string]string{"a.xml": "a"})
	base := gittest.Tip(t, r, "master")
	c1 := gittest.Commit(t, r, map[string]string{"b.xml": "b"}, "one")
	c2 := gittest.Commit(t, r, map[string]string{"c.xml": "c"}, "two")

	got, err := g.CommitsSince(ctx, "editorial", base.String())
	require.NoError(t, err)
	assert.Equal(t, []string{c1.String(), c2.String()}, got)

	got, err = g.CommitsSince(ctx, "editorial", c2.String())
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = g.CommitsSince(ctx, "missing", base.String())
	assert.Error(t, err)
}

func TestCommitsSince_UnknownCommit(t *testing.T) {
	g := newTestRepository(t)
	ctx := context.Background()
	r := gittest.Init(t, g.Layout().SandboxDir("editorial"), "master", map[string]string{"a.xml": "a"})
	gittest.Commit(t, r, map[string]string{"b.xml": "b"}, "one")

	got, err := g.CommitsSince(ctx, "editorial", "0123456789abcdef0123456789abcdef01234567")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitNotFound)
	assert.True(t, errs.Is(err, errs.KindGitAPI))
	assert.Nil(t, got, "no history is returned for a commit outside HEAD")
}

func TestDeleteSite(t *testing.T) {
	g := newTestRepository(t)
	gittest.Init(t, g.Layout().SandboxDir("editorial"), "master", map[string]string{"a.xml": "a"})

	require.NoError(t, g.DeleteSite(context.Background(), "editorial"))
	_, err := os.Stat(g.Layout().SiteDir("editorial"))
	assert.True(t, os.IsNotExist(err))
}
