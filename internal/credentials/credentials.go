// Package credentials turns a cluster member's stored git credentials into
// a go-git auth method. Key material is written to a single-use file that
// lives only for the network operation it serves.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gossh "golang.org/x/crypto/ssh"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/interfaces"
)

// defaultSSHUser is used for key auth when the member has no username.
const defaultSSHUser = "git"

// Decrypter opens a sealed secret field.
type Decrypter interface {
	Decrypt(text string) (string, error)
}

// Provisioner builds auth methods for cluster members.
type Provisioner struct {
	dir     string
	secrets Decrypter
	log     zerolog.Logger

	// HostKeyCallback verifies peer host keys for key auth. Peers are
	// addressed by internal cluster addresses, so the default accepts any key.
	HostKeyCallback gossh.HostKeyCallback
}

// New returns a Provisioner that writes credential files into dir, or the
// system temp dir when dir is empty.
func New(dir string, secrets Decrypter, logger zerolog.Logger) *Provisioner {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Provisioner{
		dir:             dir,
		secrets:         secrets,
		log:             logger.With().Str("component", "credentials").Logger(),
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}
}

// AuthMethod returns the auth method for member. For key auth the decrypted
// private key is written to credentialPath. A nil method means no auth.
//
//nolint:ireturn // go-git takes transport.AuthMethod
func (p *Provisioner) AuthMethod(member interfaces.ClusterMember, credentialPath string) (transport.AuthMethod, error) {
	const op = "credentials.AuthMethod"

	switch member.GitAuthType {
	case interfaces.AuthNone, "":
		return nil, nil

	case interfaces.AuthBasic:
		password, err := p.secrets.Decrypt(member.GitPassword)
		if err != nil {
			return nil, errs.E(errs.KindCrypto, op, fmt.Errorf("decrypt password for %s: %w", member.GitRemoteName, err))
		}
		return &http.BasicAuth{Username: member.GitUsername, Password: password}, nil

	case interfaces.AuthToken:
		token, err := p.secrets.Decrypt(member.GitToken)
		if err != nil {
			return nil, errs.E(errs.KindCrypto, op, fmt.Errorf("decrypt token for %s: %w", member.GitRemoteName, err))
		}
		// Git hosts accept the token as the username with an empty password.
		return &http.BasicAuth{Username: token}, nil

	case interfaces.AuthKey:
		key, err := p.secrets.Decrypt(member.GitPrivateKey)
		if err != nil {
			return nil, errs.E(errs.KindCrypto, op, fmt.Errorf("decrypt private key for %s: %w", member.GitRemoteName, err))
		}
		if err := os.WriteFile(credentialPath, []byte(key), 0o600); err != nil {
			return nil, errs.E(errs.KindServiceLayer, op, fmt.Errorf("write credential file: %w", err))
		}
		user := member.GitUsername
		if user == "" {
			user = defaultSSHUser
		}
		auth, err := ssh.NewPublicKeysFromFile(user, credentialPath, "")
		if err != nil {
			return nil, errs.E(errs.KindCrypto, op, fmt.Errorf("load private key for %s: %w", member.GitRemoteName, err))
		}
		auth.HostKeyCallback = p.HostKeyCallback
		return auth, nil

	default:
		return nil, errs.Errorf(errs.KindCrypto, op, "unsupported auth type %q for %s", member.GitAuthType, member.GitRemoteName)
	}
}

// With runs fn with a freshly provisioned auth method for member. The
// credential file is removed on every exit path, including when building
// the auth method fails.
func (p *Provisioner) With(member interfaces.ClusterMember, fn func(auth transport.AuthMethod) error) error {
	path := filepath.Join(p.dir, uuid.NewString()+".tmp")
	defer p.remove(path)

	auth, err := p.AuthMethod(member, path)
	if err != nil {
		return err
	}
	return fn(auth)
}

func (p *Provisioner) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Str("file", path).Msg("failed to remove credential file")
	}
}
