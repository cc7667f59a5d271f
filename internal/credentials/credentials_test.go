package credentials

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"

	"github.com/user/go-pubsync/internal/errs"
	"github.com/user/go-pubsync/internal/interfaces"
)

// plainSecrets treats every sealed field as plaintext, except "bad".
type plainSecrets struct{}

func (plainSecrets) Decrypt(text string) (string, error) {
	if text == "bad" {
		return "", errors.New("cipher: message authentication failed")
	}
	return text, nil
}

func newTestProvisioner(t *testing.T) (*Provisioner, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dir, plainSecrets{}, zerolog.Nop()), dir
}

func privateKeyPEM(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := gossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "credential file must not outlive the operation")
}

func TestAuthMethod_None(t *testing.T) {
	p, _ := newTestProvisioner(t)

	auth, err := p.AuthMethod(interfaces.ClusterMember{GitAuthType: interfaces.AuthNone}, "unused")
	require.NoError(t, err)
	assert.Nil(t, auth)
}

func TestAuthMethod_BasicAndToken(t *testing.T) {
	p, _ := newTestProvisioner(t)

	auth, err := p.AuthMethod(interfaces.ClusterMember{
		GitAuthType: interfaces.AuthBasic,
		GitUsername: "deploy",
		GitPassword: "pw",
	}, "unused")
	require.NoError(t, err)
	assert.Equal(t, &http.BasicAuth{Username: "deploy", Password: "pw"}, auth)

	auth, err = p.AuthMethod(interfaces.ClusterMember{
		GitAuthType: interfaces.AuthToken,
		GitToken:    "tok",
	}, "unused")
	require.NoError(t, err)
	assert.Equal(t, &http.BasicAuth{Username: "tok"}, auth)
}

func TestAuthMethod_CryptoFailure(t *testing.T) {
	p, _ := newTestProvisioner(t)

	_, err := p.AuthMethod(interfaces.ClusterMember{
		GitAuthType: interfaces.AuthBasic,
		GitPassword: "bad",
	}, "unused")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCrypto))

	_, err = p.AuthMethod(interfaces.ClusterMember{GitAuthType: "kerberos"}, "unused")
	assert.True(t, errs.Is(err, errs.KindCrypto))
}

func TestWith_KeyAuthRemovesFile(t *testing.T) {
	p, dir := newTestProvisioner(t)
	member := interfaces.ClusterMember{
		GitRemoteName: "cluster_node_peer",
		GitAuthType:   interfaces.AuthKey,
		GitPrivateKey: privateKeyPEM(t),
	}

	var seen transport.AuthMethod
	err := p.With(member, func(auth transport.AuthMethod) error {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1, "key file exists during the operation")
		assert.Contains(t, entries[0].Name(), ".tmp")
		seen = auth
		return nil
	})
	require.NoError(t, err)

	keys, ok := seen.(*ssh.PublicKeys)
	require.True(t, ok)
	assert.Equal(t, "git", keys.User)
	assertEmptyDir(t, dir)
}

func TestWith_RemovesFileOnFailure(t *testing.T) {
	p, dir := newTestProvisioner(t)
	member := interfaces.ClusterMember{
		GitAuthType:   interfaces.AuthKey,
		GitPrivateKey: privateKeyPEM(t),
	}

	boom := errors.New("fetch failed")
	err := p.With(member, func(transport.AuthMethod) error { return boom })
	assert.ErrorIs(t, err, boom)
	assertEmptyDir(t, dir)

	member.GitPrivateKey = "not a key"
	err = p.With(member, func(transport.AuthMethod) error {
		t.Fatal("fn must not run when auth cannot be built")
		return nil
	})
	assert.True(t, errs.Is(err, errs.KindCrypto))
	assertEmptyDir(t, dir)
}
