package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/interfaces"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSiteRepo(t *testing.T) *SiteRepo {
	t.Helper()
	return &SiteRepo{
		DB:                 OpenTestDB(t),
		LiveEnvironment:    "live",
		StagingEnvironment: "staging",
		Now:                func() time.Time { return fixedNow },
	}
}

func TestSiteRepo_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newSiteRepo(t)

	created, err := repo.Create(ctx, interfaces.Site{ID: "editorial", UUID: "u-1", StagingEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, "live", created.LiveEnvironment, "defaults applied")
	assert.Equal(t, "master", created.SandboxBranch)

	got, err := repo.GetSite(ctx, "editorial")
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.ElementsMatch(t, []string{"live", "staging"}, got.Environments())

	_, err = repo.Create(ctx, interfaces.Site{ID: "editorial"})
	assert.ErrorIs(t, err, ErrSiteExists)
}

func TestSiteRepo_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := newSiteRepo(t)

	_, err := repo.GetSite(ctx, "missing")
	assert.True(t, errs.Is(err, errs.KindSiteNotFound))

	_, err = repo.LastVerifiedCommit(ctx, "missing")
	assert.True(t, errs.Is(err, errs.KindSiteNotFound))

	err = repo.SetPublishedRepoCreated(ctx, "missing", true)
	assert.True(t, errs.Is(err, errs.KindSiteNotFound))

	err = repo.RecordGitLog(ctx, "missing", []string{"c1"})
	assert.True(t, errs.Is(err, errs.KindSiteNotFound))
}

func TestSiteRepo_ListSites(t *testing.T) {
	ctx := context.Background()
	repo := newSiteRepo(t)

	ids, err := repo.ListSites(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		_, err := repo.Create(ctx, interfaces.Site{ID: id})
		require.NoError(t, err)
	}
	ids, err = repo.ListSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
}

func TestSiteRepo_PublishedRepoCreated(t *testing.T) {
	ctx := context.Background()
	repo := newSiteRepo(t)
	_, err := repo.Create(ctx, interfaces.Site{ID: "editorial"})
	require.NoError(t, err)

	require.NoError(t, repo.SetPublishedRepoCreated(ctx, "editorial", true))
	site, err := repo.GetSite(ctx, "editorial")
	require.NoError(t, err)
	assert.True(t, site.PublishedRepoCreated)
}

func TestSiteRepo_RecordGitLog(t *testing.T) {
	ctx := context.Background()
	repo := newSiteRepo(t)
	_, err := repo.Create(ctx, interfaces.Site{ID: "editorial"})
	require.NoError(t, err)

	last, err := repo.LastVerifiedCommit(ctx, "editorial")
	require.NoError(t, err)
	assert.Empty(t, last)

	require.NoError(t, repo.SetLastVerifiedCommit(ctx, "editorial", "c0"))
	require.NoError(t, repo.RecordGitLog(ctx, "editorial", []string{"c1", "c2"}))
	require.NoError(t, repo.RecordGitLog(ctx, "editorial", []string{"c2", "c3"}))
	require.NoError(t, repo.RecordGitLog(ctx, "editorial", nil))

	last, err = repo.LastVerifiedCommit(ctx, "editorial")
	require.NoError(t, err)
	assert.Equal(t, "c3", last)

	entries, err := repo.GitLog(ctx, "editorial")
	require.NoError(t, err)
	require.Len(t, entries, 3, "duplicates are ignored")
	for i, want := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, want, entries[i].CommitID)
		assert.True(t, entries[i].Processed)
		assert.True(t, fixedNow.Equal(entries[i].RecordedAt))
	}
}

func TestDeployTargetRepo(t *testing.T) {
	ctx := context.Background()
	repo := &DeployTargetRepo{DB: OpenTestDB(t), Now: func() time.Time { return fixedNow }}

	_, err := repo.Get(ctx, "editorial")
	assert.ErrorIs(t, err, ErrTargetNotFound)

	require.NoError(t, repo.Put(ctx, "editorial", "Elasticsearch"))
	require.NoError(t, repo.Put(ctx, "editorial", "OpenSearch"))

	got, err := repo.Get(ctx, "editorial")
	require.NoError(t, err)
	assert.Equal(t, "OpenSearch", got.SearchEngine)
	assert.True(t, fixedNow.Equal(got.CreatedAt))

	require.NoError(t, repo.Delete(ctx, "editorial"))
	require.NoError(t, repo.Delete(ctx, "editorial"), "delete is idempotent")
	_, err = repo.Get(ctx, "editorial")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}
