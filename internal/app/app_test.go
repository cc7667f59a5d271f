package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/go-pubsync/internal/config"
	"github.com/user/go-pubsync/internal/deployer"
	"github.com/user/go-pubsync/internal/sqlite"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RepoBasePath = filepath.Join(dir, "repos")
	cfg.Paths.CredentialsDir = dir
	cfg.Storage.MembersFile = filepath.Join(dir, "members.json.enc")
	cfg.Database.DSN = filepath.Join(dir, "pubsync.db")
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func TestNewApp(t *testing.T) {
	a, err := NewApp(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.db.Close() })

	rec := doRequest(t, a, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec)
}

func TestNewApp_NilConfig(t *testing.T) {
	_, err := NewApp(nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildDeployers(t *testing.T) {
	db := sqlite.OpenTestDB(t)

	cfg := config.Default().Deployers
	cfg.Order = []string{config.DeployerRecording, config.DeployerHTTP}
	cfg.HTTP.BaseURL = "http://deployer:9191"

	ds, err := buildDeployers(cfg, db, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.IsType(t, &deployer.Recording{}, ds[0])
	assert.IsType(t, &deployer.HTTP{}, ds[1])

	cfg.Order = []string{"ftp"}
	_, err = buildDeployers(cfg, db, zerolog.Nop())
	assert.Error(t, err)

	cfg.Order = nil
	ds, err = buildDeployers(cfg, db, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := NewApp(testConfig(t), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func doRequest(t *testing.T, a *App, method, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec.Code
}
