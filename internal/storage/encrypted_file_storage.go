package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/user/go-pubsync/internal/interfaces"
)

// DefaultStorageFile is the default path for the cluster member file.
const DefaultStorageFile = "cluster-members.json.enc"

// devEncryptionKey is used when no key is configured. Development only.
var devEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// ErrMemberNotFound is returned when a member id is not stored.
var ErrMemberNotFound = errors.New("cluster member not found")

// EncryptedFileStorage keeps cluster members in an AES-GCM encrypted JSON
// file. Secret fields are additionally sealed one by one so a loaded member
// never carries plaintext credentials.
type EncryptedFileStorage struct {
	FilePath      string
	EncryptionKey []byte

	secrets *TextEncryptor
	log     zerolog.Logger
	mu      sync.Mutex
}

// NewEncryptedFileStorage creates a new EncryptedFileStorage.
// If filePath is empty, DefaultStorageFile is used. If encryptionKey is
// empty a hardcoded development key is used and a warning is logged.
func NewEncryptedFileStorage(filePath string, encryptionKey []byte, logger zerolog.Logger) (*EncryptedFileStorage, error) {
	if filePath == "" {
		filePath = DefaultStorageFile
	}

	key := encryptionKey
	if len(key) == 0 {
		logger.Warn().Msg("using hardcoded encryption key; set PUBSYNC_ENCRYPTION_KEY outside development")
		key = devEncryptionKey
	}

	secrets, err := NewTextEncryptor(key)
	if err != nil {
		return nil, err
	}

	return &EncryptedFileStorage{
		FilePath:      filePath,
		EncryptionKey: key,
		secrets:       secrets,
		log:           logger.With().Str("component", "member-storage").Logger(),
	}, nil
}

// Secrets returns the field encryptor used for member credentials.
func (s *EncryptedFileStorage) Secrets() *TextEncryptor {
	return s.secrets
}

// LoadMembers reads, decrypts and unmarshals the stored members. A missing
// or empty file yields an empty list.
func (s *EncryptedFileStorage) LoadMembers() ([]interfaces.ClusterMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *EncryptedFileStorage) load() ([]interfaces.ClusterMember, error) {
	encryptedData, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Debug().Str("file", s.FilePath).Msg("member file not found, no cluster members")
			return []interfaces.ClusterMember{}, nil
		}
		return nil, fmt.Errorf("failed to read storage file '%s': %w", s.FilePath, err)
	}

	if len(encryptedData) == 0 {
		return []interfaces.ClusterMember{}, nil
	}

	decryptedData, err := Decrypt(encryptedData, s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data from '%s': %w", s.FilePath, err)
	}

	var members []interfaces.ClusterMember
	if err := json.Unmarshal(decryptedData, &members); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cluster members from JSON in '%s': %w", s.FilePath, err)
	}
	return members, nil
}

// SaveMember inserts or replaces the member with the same ID. Secret fields
// of member are expected in plaintext and are sealed before writing.
func (s *EncryptedFileStorage) SaveMember(member interfaces.ClusterMember) error {
	sealed, err := s.seal(member)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to load existing cluster members before saving: %w", err)
	}

	found := false
	for i, m := range members {
		if m.ID == sealed.ID {
			members[i] = sealed
			found = true
			break
		}
	}
	if !found {
		members = append(members, sealed)
	}

	if err := s.write(members); err != nil {
		return err
	}
	s.log.Info().Str("member", member.ID).Int("total", len(members)).Msg("saved cluster member")
	return nil
}

// DeleteMember removes the member with id.
func (s *EncryptedFileStorage) DeleteMember(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, err := s.load()
	if err != nil {
		return err
	}
	kept := members[:0]
	for _, m := range members {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(members) {
		return ErrMemberNotFound
	}
	if err := s.write(kept); err != nil {
		return err
	}
	s.log.Info().Str("member", id).Int("total", len(kept)).Msg("deleted cluster member")
	return nil
}

func (s *EncryptedFileStorage) seal(m interfaces.ClusterMember) (interfaces.ClusterMember, error) {
	var err error
	if m.GitPassword, err = s.secrets.Encrypt(m.GitPassword); err != nil {
		return m, fmt.Errorf("failed to encrypt git password: %w", err)
	}
	if m.GitToken, err = s.secrets.Encrypt(m.GitToken); err != nil {
		return m, fmt.Errorf("failed to encrypt git token: %w", err)
	}
	if m.GitPrivateKey, err = s.secrets.Encrypt(m.GitPrivateKey); err != nil {
		return m, fmt.Errorf("failed to encrypt git private key: %w", err)
	}
	return m, nil
}

func (s *EncryptedFileStorage) write(members []interfaces.ClusterMember) error {
	jsonData, err := json.MarshalIndent(members, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cluster members to JSON: %w", err)
	}

	encryptedData, err := Encrypt(jsonData, s.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt cluster members: %w", err)
	}

	if err := os.WriteFile(s.FilePath, encryptedData, 0o600); err != nil {
		return fmt.Errorf("failed to write cluster members to file '%s': %w", s.FilePath, err)
	}
	return nil
}
