package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/go-pubsync/internal/interfaces"
)

var testKey = []byte("abcdefghijklmnopqrstuvwxyz012345")

func newTestStorage(t *testing.T) *EncryptedFileStorage {
	t.Helper()
	s, err := NewEncryptedFileStorage(filepath.Join(t.TempDir(), "members.enc"), testKey, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestEncryptDecrypt(t *testing.T) {
	sealed, err := Encrypt([]byte("payload"), testKey)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "payload")

	plain, err := Decrypt(sealed, testKey)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))

	_, err = Decrypt(sealed, []byte("0123456789abcdef0123456789abcdef"))
	assert.Error(t, err, "wrong key must fail authentication")

	_, err = Decrypt([]byte("x"), testKey)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	_, err = Encrypt([]byte("payload"), []byte("short"))
	assert.Error(t, err)
}

func TestTextEncryptor(t *testing.T) {
	enc, err := NewTextEncryptor(testKey)
	require.NoError(t, err)

	empty, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	text, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", text)

	plain, err := enc.Decrypt(text)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	_, err = enc.Decrypt("!!not-base64!!")
	assert.Error(t, err)
}

func TestLoadMembers_MissingFile(t *testing.T) {
	s := newTestStorage(t)

	members, err := s.LoadMembers()
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSaveMember_UpsertAndSealSecrets(t *testing.T) {
	s := newTestStorage(t)

	member := interfaces.ClusterMember{
		ID:            "m1",
		LocalAddress:  "10.0.0.2",
		GitRemoteName: "cluster_node_10.0.0.2",
		GitURL:        "ssh://git@10.0.0.2/sites/{siteId}",
		GitAuthType:   interfaces.AuthBasic,
		GitUsername:   "deploy",
		GitPassword:   "s3cret",
	}
	require.NoError(t, s.SaveMember(member))

	raw, err := os.ReadFile(s.FilePath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "10.0.0.2", "file must be encrypted")

	members, err := s.LoadMembers()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.NotEqual(t, "s3cret", members[0].GitPassword, "secret must stay sealed after load")

	plain, err := s.Secrets().Decrypt(members[0].GitPassword)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	member.GitURL = "ssh://git@10.0.0.9/sites/{siteId}"
	require.NoError(t, s.SaveMember(member))
	require.NoError(t, s.SaveMember(interfaces.ClusterMember{ID: "m2", GitAuthType: interfaces.AuthNone}))

	members, err = s.LoadMembers()
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "ssh://git@10.0.0.9/sites/{siteId}", members[0].GitURL)
}

func TestDeleteMember(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveMember(interfaces.ClusterMember{ID: "m1"}))
	require.NoError(t, s.SaveMember(interfaces.ClusterMember{ID: "m2"}))

	require.NoError(t, s.DeleteMember("m1"))
	assert.ErrorIs(t, s.DeleteMember("m1"), ErrMemberNotFound)

	members, err := s.LoadMembers()
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "m2", members[0].ID)
}

func TestLoadMembers_WrongKey(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.SaveMember(interfaces.ClusterMember{ID: "m1"}))

	other, err := NewEncryptedFileStorage(s.FilePath, []byte("0123456789abcdef"), zerolog.Nop())
	require.NoError(t, err)

	_, err = other.LoadMembers()
	assert.Error(t, err)
}

func TestNewEncryptedFileStorage_BadKey(t *testing.T) {
	_, err := NewEncryptedFileStorage("", []byte("too-short"), zerolog.Nop())
	assert.Error(t, err)
}
