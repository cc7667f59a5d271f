package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/user/go-pubsync/internal/logging"
)

// Environment variables that override values from the config file.
const (
	EnvRepoBasePath      = "PUBSYNC_REPO_BASE_PATH"
	EnvClusterEnabled    = "PUBSYNC_CLUSTER_ENABLED"
	EnvLocalAddress      = "PUBSYNC_CLUSTER_LOCAL_ADDRESS"
	EnvTickSeconds       = "PUBSYNC_TICK_SECONDS"
	EnvDatabaseDSN       = "PUBSYNC_DATABASE_DSN"
	EnvServerAddr        = "PUBSYNC_SERVER_ADDR"
	EnvMembersFile       = "PUBSYNC_MEMBERS_FILE"
	EnvEncryptionKey     = "PUBSYNC_ENCRYPTION_KEY"
	EnvDeployerOrder     = "PUBSYNC_DEPLOYERS"
	EnvHTTPDeployerURL   = "PUBSYNC_HTTP_DEPLOYER_URL"
	EnvKubeconfigPath    = "PUBSYNC_KUBECONFIG_PATH"
	EnvKubeNamespace     = "PUBSYNC_KUBE_NAMESPACE"
	EnvAllowFastForward  = "PUBSYNC_ALLOW_FAST_FORWARD"
	EnvSyncCommitMessage = "PUBSYNC_SYNC_COMMIT_MESSAGE"
)

// Deployer backend names accepted in Deployers.Order.
const (
	DeployerRecording  = "recording"
	DeployerKubernetes = "kubernetes"
	DeployerHTTP       = "http"
)

// Config holds the service configuration.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Cluster   ClusterConfig   `toml:"cluster"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Sync      SyncConfig      `toml:"sync"`
	Sites     SitesConfig     `toml:"sites"`
	Deployers DeployersConfig `toml:"deployers"`
	Storage   StorageConfig   `toml:"storage"`
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Logging   logging.Config  `toml:"logging"`
}

// PathsConfig describes the on-disk repository layout:
// <RepoBasePath>/<SitesReposPath>/<siteId>/<PublishedPath>/.git
type PathsConfig struct {
	RepoBasePath   string `toml:"repo_base_path"`
	SitesReposPath string `toml:"sites_repos_path"`
	SandboxPath    string `toml:"sandbox_path"`
	PublishedPath  string `toml:"published_path"`
	CredentialsDir string `toml:"credentials_dir"`
}

type ClusterConfig struct {
	Enabled          bool   `toml:"enabled"`
	LocalAddress     string `toml:"local_address"`
	RemoteNamePrefix string `toml:"remote_name_prefix"`
}

// TaskConfig is the cadence of one scheduled task.
type TaskConfig struct {
	EveryNCycles int `toml:"every_n_cycles"`
	Offset       int `toml:"offset"`
}

type SchedulerConfig struct {
	TickSeconds   int        `toml:"tick_seconds"`
	PublishedSync TaskConfig `toml:"published_sync"`
	RepoSync      TaskConfig `toml:"repo_sync"`
}

// SyncConfig controls how peer history is merged into published branches.
type SyncConfig struct {
	CommitMessage    string `toml:"commit_message"`
	AuthorName       string `toml:"author_name"`
	AuthorEmail      string `toml:"author_email"`
	AllowFastForward bool   `toml:"allow_fast_forward"`
}

// SitesConfig holds defaults for sites that do not override them.
type SitesConfig struct {
	LiveEnvironment    string `toml:"live_environment"`
	StagingEnvironment string `toml:"staging_environment"`
}

type DeployersConfig struct {
	Order      []string         `toml:"order"`
	Kubernetes KubernetesConfig `toml:"kubernetes"`
	HTTP       HTTPConfig       `toml:"http"`
}

type KubernetesConfig struct {
	KubeconfigPath string `toml:"kubeconfig_path"`
	Namespace      string `toml:"namespace"`
}

type HTTPConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Environment    string `toml:"environment"`
}

type StorageConfig struct {
	MembersFile   string `toml:"members_file"`
	EncryptionKey string `toml:"-"`
}

type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			RepoBasePath:   "data/repos",
			SitesReposPath: "sites",
			SandboxPath:    "sandbox",
			PublishedPath:  "published",
		},
		Cluster: ClusterConfig{
			RemoteNamePrefix: "cluster_node_",
		},
		Scheduler: SchedulerConfig{
			TickSeconds:   10,
			PublishedSync: TaskConfig{EveryNCycles: 1, Offset: 0},
			RepoSync:      TaskConfig{EveryNCycles: 6, Offset: 1},
		},
		Sync: SyncConfig{
			CommitMessage: "Published repository sync [no processing]",
			AuthorName:    "pubsync",
			AuthorEmail:   "pubsync@localhost",
		},
		Sites: SitesConfig{
			LiveEnvironment:    "live",
			StagingEnvironment: "staging",
		},
		Deployers: DeployersConfig{
			Order: []string{DeployerRecording},
			Kubernetes: KubernetesConfig{
				Namespace: "default",
			},
			HTTP: HTTPConfig{
				TimeoutSeconds: 30,
				Environment:    "preview",
			},
		},
		Storage: StorageConfig{
			MembersFile: "cluster-members.json.enc",
		},
		Database: DatabaseConfig{
			DSN: "pubsync.db",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads the TOML file at path (if path is non-empty), applies
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Paths.RepoBasePath, EnvRepoBasePath)
	setString(&cfg.Cluster.LocalAddress, EnvLocalAddress)
	setString(&cfg.Database.DSN, EnvDatabaseDSN)
	setString(&cfg.Server.Addr, EnvServerAddr)
	setString(&cfg.Storage.MembersFile, EnvMembersFile)
	setString(&cfg.Storage.EncryptionKey, EnvEncryptionKey)
	setString(&cfg.Deployers.HTTP.BaseURL, EnvHTTPDeployerURL)
	setString(&cfg.Deployers.Kubernetes.KubeconfigPath, EnvKubeconfigPath)
	setString(&cfg.Deployers.Kubernetes.Namespace, EnvKubeNamespace)
	setString(&cfg.Sync.CommitMessage, EnvSyncCommitMessage)

	if v := os.Getenv(EnvDeployerOrder); v != "" {
		var order []string
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				order = append(order, name)
			}
		}
		cfg.Deployers.Order = order
	}

	if v := os.Getenv(EnvTickSeconds); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New(EnvTickSeconds + " must be a valid integer")
		}
		cfg.Scheduler.TickSeconds = n
	}

	if err := setBool(&cfg.Cluster.Enabled, EnvClusterEnabled); err != nil {
		return err
	}
	return setBool(&cfg.Sync.AllowFastForward, EnvAllowFastForward)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.New(env + " must be a valid boolean")
	}
	*dst = b
	return nil
}

// Validate checks the config for values the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.RepoBasePath) == "" {
		return errors.New("paths.repo_base_path is required")
	}
	if strings.TrimSpace(c.Paths.SitesReposPath) == "" {
		return errors.New("paths.sites_repos_path is required")
	}
	if strings.TrimSpace(c.Paths.PublishedPath) == "" {
		return errors.New("paths.published_path is required")
	}
	if c.Scheduler.TickSeconds <= 0 {
		return fmt.Errorf("scheduler.tick_seconds must be positive, got %d", c.Scheduler.TickSeconds)
	}
	if err := validateTask("published_sync", c.Scheduler.PublishedSync); err != nil {
		return err
	}
	if err := validateTask("repo_sync", c.Scheduler.RepoSync); err != nil {
		return err
	}
	if strings.TrimSpace(c.Sync.CommitMessage) == "" {
		return errors.New("sync.commit_message is required")
	}
	if c.Cluster.Enabled && strings.TrimSpace(c.Cluster.LocalAddress) == "" {
		return errors.New("cluster.local_address is required when clustering is enabled")
	}
	for i, name := range c.Deployers.Order {
		switch name {
		case DeployerRecording:
		case DeployerKubernetes:
		case DeployerHTTP:
			if strings.TrimSpace(c.Deployers.HTTP.BaseURL) == "" {
				return fmt.Errorf("deployers.order[%d]: http deployer requires deployers.http.base_url", i)
			}
		default:
			return fmt.Errorf("deployers.order[%d]: unknown deployer %q", i, name)
		}
	}
	return nil
}

func validateTask(name string, t TaskConfig) error {
	if t.EveryNCycles <= 0 {
		return fmt.Errorf("scheduler.%s.every_n_cycles must be positive, got %d", name, t.EveryNCycles)
	}
	if t.Offset < 0 {
		return fmt.Errorf("scheduler.%s.offset cannot be negative, got %d", name, t.Offset)
	}
	return nil
}
