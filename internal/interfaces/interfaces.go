package interfaces

import (
	"context"
	"io"
	"strings"
)

// Site is the read-only view of a site the sync tasks work from.
type Site struct {
	ID                   string `json:"id"`
	UUID                 string `json:"uuid"`
	SandboxBranch        string `json:"sandboxBranch"`
	PublishedRepoCreated bool   `json:"publishedRepoCreated"`
	LiveEnvironment      string `json:"liveEnvironment"`
	StagingEnvironment   string `json:"stagingEnvironment"`
	StagingEnabled       bool   `json:"stagingEnabled"`
}

// Environments returns the publishing environments (branch names) that are
// active for the site. Order is not significant.
func (s Site) Environments() []string {
	envs := make([]string, 0, 2)
	if s.LiveEnvironment != "" {
		envs = append(envs, s.LiveEnvironment)
	}
	if s.StagingEnabled && s.StagingEnvironment != "" && s.StagingEnvironment != s.LiveEnvironment {
		envs = append(envs, s.StagingEnvironment)
	}
	return envs
}

// Auth types understood by the credential hook.
const (
	AuthNone  = "none"
	AuthBasic = "basic"
	AuthToken = "token"
	AuthKey   = "key"
)

// SiteIDPlaceholder is replaced with the site id in ClusterMember.GitURL.
const SiteIDPlaceholder = "{siteId}"

// ClusterMember describes a peer node reachable as a git remote. Secret
// fields hold encrypted text and are only decrypted by the credential hook.
type ClusterMember struct {
	ID            string `json:"id"`
	LocalAddress  string `json:"localAddress"`
	GitRemoteName string `json:"gitRemoteName"`
	GitURL        string `json:"gitUrl"`
	GitAuthType   string `json:"gitAuthType"`
	GitUsername   string `json:"gitUsername,omitempty"`
	GitPassword   string `json:"gitPassword,omitempty"`
	GitToken      string `json:"gitToken,omitempty"`
	GitPrivateKey string `json:"gitPrivateKey,omitempty"`
}

// RemoteURL expands the member's URL template for siteID and appends the
// published repository subpath.
func (m ClusterMember) RemoteURL(siteID, publishedPath string) string {
	base := strings.ReplaceAll(m.GitURL, SiteIDPlaceholder, siteID)
	if publishedPath == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + publishedPath
}

// ClusterConfig is the registration data the topology provider exposes.
// An empty config means clustering is not active on this node.
type ClusterConfig struct {
	Enabled      bool
	LocalAddress string
}

// TopologyProvider supplies current cluster membership.
type TopologyProvider interface {
	ClusterConfiguration() (ClusterConfig, bool)
	LocalAddress() string
	ClusterNodes(excludingLocalAddress string) ([]ClusterMember, error)
}

// ContentRepository is the subset of the content store the sync tasks use.
type ContentRepository interface {
	RepoFirstCommitID(ctx context.Context, siteID string) string
	ContentExists(ctx context.Context, siteID, path string) bool
	GetContent(ctx context.Context, siteID, path string) (io.ReadCloser, error)
	DeleteSite(ctx context.Context, siteID string) error
}

// SiteService resolves sites and tracks database/repository sync progress.
type SiteService interface {
	GetSite(ctx context.Context, siteID string) (Site, error)
	ListSites(ctx context.Context) ([]string, error)
	LastVerifiedCommit(ctx context.Context, siteID string) (string, error)
	RecordGitLog(ctx context.Context, siteID string, commitIDs []string) error
}

// Deployer provisions and tears down a site's deployment targets on one
// backend.
type Deployer interface {
	CreateTargets(ctx context.Context, site, searchEngine string) error
	DeleteTargets(ctx context.Context, site string) error
}

// MemberStorage persists cluster members.
type MemberStorage interface {
	SaveMember(member ClusterMember) error
	LoadMembers() ([]ClusterMember, error)
}
