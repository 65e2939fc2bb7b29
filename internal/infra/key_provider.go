package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/weblate/distributor/internal/domain"
)

const (
	keyFileName = "permissions.key"
	keySize     = 32 // raw SQLCipher key, PRAGMA key = "x'<hex>'"
)

// ErrReadOnlyKey is returned when a key supplied by configuration would be
// overwritten.
var ErrReadOnlyKey = errors.New("database key is supplied by configuration and cannot be replaced")

// ParseStoreKey decodes a hex database key, as written to the key file or
// given in DISTRIBUTOR_STORE_KEY.
func ParseStoreKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("database key is not hex: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d bytes, want %d", len(key), keySize)
	}
	return key, nil
}

// NewStoreKey draws a fresh database key from crypto/rand.
func NewStoreKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate database key: %w", err)
	}
	return key, nil
}

// FileKeyProvider keeps the database key next to permissions.db, hex encoded,
// readable only by the owner.
type FileKeyProvider struct {
	keyPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{keyPath: filepath.Join(dataDir, keyFileName)}
}

// Path returns the key file location.
func (p *FileKeyProvider) Path() string {
	return p.keyPath
}

func (p *FileKeyProvider) GetKey() ([]byte, error) {
	data, err := os.ReadFile(p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := ParseStoreKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.keyPath, err)
	}
	return key, nil
}

// StoreKey replaces the key file in one rename, so a crash never leaves a
// half-written key behind.
func (p *FileKeyProvider) StoreKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d bytes, want %d", len(key), keySize)
	}
	dir := filepath.Dir(p.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, keyFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.WriteString(tmp, hex.EncodeToString(key)+"\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to restrict key file: %w", err)
	}
	return os.Rename(tmp.Name(), p.keyPath)
}

func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.keyPath)
	return err == nil
}

// StaticKeyProvider serves a key taken from configuration. It never writes.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider parses a hex key from configuration.
func NewStaticKeyProvider(hexKey string) (*StaticKeyProvider, error) {
	key, err := ParseStoreKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &StaticKeyProvider{key: key}, nil
}

func (p *StaticKeyProvider) GetKey() ([]byte, error) {
	return append([]byte(nil), p.key...), nil
}

func (p *StaticKeyProvider) StoreKey([]byte) error { return ErrReadOnlyKey }

func (p *StaticKeyProvider) KeyExists() bool { return true }

// LoadOrCreateKey returns the provider's key. On first use of the encrypted
// store there is none yet, so one is generated and stored.
func LoadOrCreateKey(provider domain.KeyProvider) ([]byte, error) {
	if provider.KeyExists() {
		return provider.GetKey()
	}
	key, err := NewStoreKey()
	if err != nil {
		return nil, err
	}
	if err := provider.StoreKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

var (
	_ domain.KeyProvider = (*FileKeyProvider)(nil)
	_ domain.KeyProvider = (*StaticKeyProvider)(nil)
)
