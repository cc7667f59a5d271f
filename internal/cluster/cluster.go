// Package cluster exposes cluster membership to the sync tasks.
package cluster

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/interfaces"
)

// MemberLoader reads the registered cluster members.
type MemberLoader interface {
	LoadMembers() ([]interfaces.ClusterMember, error)
}

// Provider implements interfaces.TopologyProvider from static node
// settings and the member store.
type Provider struct {
	enabled      bool
	localAddress string
	members      MemberLoader
	log          zerolog.Logger
}

// NewProvider returns a topology provider for the local node.
func NewProvider(enabled bool, localAddress string, members MemberLoader, logger zerolog.Logger) *Provider {
	return &Provider{
		enabled:      enabled,
		localAddress: localAddress,
		members:      members,
		log:          logger.With().Str("component", "topology").Logger(),
	}
}

// ClusterConfiguration reports the node's cluster registration. The second
// result is false when clustering is disabled.
func (p *Provider) ClusterConfiguration() (interfaces.ClusterConfig, bool) {
	if !p.enabled {
		return interfaces.ClusterConfig{}, false
	}
	return interfaces.ClusterConfig{Enabled: true, LocalAddress: p.localAddress}, true
}

func (p *Provider) LocalAddress() string {
	return p.localAddress
}

// ClusterNodes returns every member except the one at excludingLocalAddress,
// in registration order.
func (p *Provider) ClusterNodes(excludingLocalAddress string) ([]interfaces.ClusterMember, error) {
	all, err := p.members.LoadMembers()
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster members: %w", err)
	}
	peers := make([]interfaces.ClusterMember, 0, len(all))
	for _, m := range all {
		if m.LocalAddress == excludingLocalAddress {
			continue
		}
		peers = append(peers, m)
	}
	p.log.Debug().Int("members", len(all)).Int("peers", len(peers)).Msg("resolved cluster peers")
	return peers, nil
}

// RemoteNames maps members to git remote names. Older nodes registered
// remotes without the prefix; Legacy returns that historical name.
type RemoteNames struct {
	Prefix string
}

// Canonical is the remote name the member is configured under.
func (n RemoteNames) Canonical(m interfaces.ClusterMember) string {
	if m.GitRemoteName != "" {
		return m.GitRemoteName
	}
	return n.Default(m.LocalAddress)
}

// Legacy is the canonical name with the first occurrence of the prefix
// removed. It equals Canonical when the name never carried the prefix.
func (n RemoteNames) Legacy(m interfaces.ClusterMember) string {
	if n.Prefix == "" {
		return n.Canonical(m)
	}
	return strings.Replace(n.Canonical(m), n.Prefix, "", 1)
}

// Default derives a remote name from a node address.
func (n RemoteNames) Default(localAddress string) string {
	r := strings.NewReplacer(":", "_", "/", "_", " ", "_")
	return n.Prefix + r.Replace(localAddress)
}
