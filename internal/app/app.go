// Package app wires the service together: stores, sync tasks, the
// scheduler, deployers and the admin API.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/cluster"
	"github.com/user/go-pubsync/internal/config"
	"github.com/user/go-pubsync/internal/content"
	"github.com/user/go-pubsync/internal/credentials"
	"github.com/user/go-pubsync/internal/deployer"
	"github.com/user/go-pubsync/internal/gitrepo"
	"github.com/user/go-pubsync/internal/interfaces"
	"github.com/user/go-pubsync/internal/publishsync"
	"github.com/user/go-pubsync/internal/registry"
	"github.com/user/go-pubsync/internal/reposync"
	"github.com/user/go-pubsync/internal/scheduler"
	"github.com/user/go-pubsync/internal/server"
	"github.com/user/go-pubsync/internal/sqlite"
	"github.com/user/go-pubsync/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App holds the running components.
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	db        *sql.DB
	scheduler *scheduler.Scheduler
	server    *server.Server
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	layout := content.Layout{
		RepoBase:   cfg.Paths.RepoBasePath,
		SitesRepos: cfg.Paths.SitesReposPath,
		Sandbox:    cfg.Paths.SandboxPath,
		Published:  cfg.Paths.PublishedPath,
	}

	members, err := storage.NewEncryptedFileStorage(cfg.Storage.MembersFile, []byte(cfg.Storage.EncryptionKey), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize member storage: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sites := &sqlite.SiteRepo{
		DB:                 db,
		LiveEnvironment:    cfg.Sites.LiveEnvironment,
		StagingEnvironment: cfg.Sites.StagingEnvironment,
	}

	backends, err := buildDeployers(cfg.Deployers, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	deployers := deployer.NewComposite(backends, logger)

	contentRepo := content.NewGitRepository(layout, logger)
	topology := cluster.NewProvider(cfg.Cluster.Enabled, cfg.Cluster.LocalAddress, members, logger)
	names := cluster.RemoteNames{Prefix: cfg.Cluster.RemoteNamePrefix}

	published := publishsync.NewTask(publishsync.Config{
		Layout:      layout,
		RemoteNames: names,
		Merge: gitrepo.MergeOptions{
			Message:          cfg.Sync.CommitMessage,
			AuthorName:       cfg.Sync.AuthorName,
			AuthorEmail:      cfg.Sync.AuthorEmail,
			AllowFastForward: cfg.Sync.AllowFastForward,
		},
		EveryNCycles: cfg.Scheduler.PublishedSync.EveryNCycles,
		Offset:       cfg.Scheduler.PublishedSync.Offset,
	}, publishsync.Deps{
		Registry:    registry.New(),
		Topology:    topology,
		Sites:       sites,
		Content:     contentRepo,
		Credentials: credentials.New(cfg.Paths.CredentialsDir, members.Secrets(), logger),
	}, logger)

	repoSync := reposync.NewTask(reposync.Config{
		Layout:       layout,
		EveryNCycles: cfg.Scheduler.RepoSync.EveryNCycles,
		Offset:       cfg.Scheduler.RepoSync.Offset,
	}, sites, contentRepo, logger)

	sched := scheduler.New(time.Duration(cfg.Scheduler.TickSeconds)*time.Second, sites, logger)
	for _, task := range []scheduler.Task{published, repoSync} {
		if err := sched.AddTask(task); err != nil {
			db.Close()
			return nil, err
		}
	}

	srv := server.NewServer(server.Deps{
		Members:       members,
		Sites:         sites,
		Deployer:      deployers,
		Syncer:        published,
		RemoteNames:   names,
		PublishedPath: cfg.Paths.PublishedPath,
	}, logger)

	logger.Info().
		Bool("cluster", cfg.Cluster.Enabled).
		Str("local_address", cfg.Cluster.LocalAddress).
		Strs("deployers", cfg.Deployers.Order).
		Msg("application components initialized")

	return &App{
		cfg:       cfg,
		log:       logger,
		db:        db,
		scheduler: sched,
		server:    srv,
	}, nil
}

// buildDeployers creates the configured deployers in order.
func buildDeployers(cfg config.DeployersConfig, db *sql.DB, logger zerolog.Logger) ([]interfaces.Deployer, error) {
	out := make([]interfaces.Deployer, 0, len(cfg.Order))
	for _, name := range cfg.Order {
		switch name {
		case config.DeployerRecording:
			out = append(out, &deployer.Recording{Targets: &sqlite.DeployTargetRepo{DB: db}})
		case config.DeployerKubernetes:
			k, err := deployer.NewKube(cfg.Kubernetes.KubeconfigPath, nil, cfg.Kubernetes.Namespace, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create kubernetes deployer: %w", err)
			}
			out = append(out, k)
		case config.DeployerHTTP:
			h, err := deployer.NewHTTP(deployer.HTTPConfig{
				BaseURL:     cfg.HTTP.BaseURL,
				Environment: cfg.HTTP.Environment,
				Timeout:     time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create http deployer: %w", err)
			}
			out = append(out, h)
		default:
			return nil, fmt.Errorf("unknown deployer %q", name)
		}
	}
	return out, nil
}

// Run starts the scheduler and the admin API, then blocks until ctx is
// cancelled or the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.server.Start(a.cfg.Server.Addr); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	a.scheduler.Start(ctx)
	a.log.Info().Int("tick_seconds", a.cfg.Scheduler.TickSeconds).Msg("application started")

	<-ctx.Done()
	a.log.Info().Msg("shutting down")
	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.server.Stop(ctx); err != nil {
		a.log.Error().Err(err).Msg("error shutting down HTTP server")
		firstErr = err
	}
	a.scheduler.Stop()
	if err := a.db.Close(); err != nil {
		a.log.Error().Err(err).Msg("error closing database")
		if firstErr == nil {
			firstErr = err
		}
	}
	a.log.Info().Msg("application shut down")
	return firstErr
}
