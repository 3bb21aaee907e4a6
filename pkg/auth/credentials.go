package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"pkgmirror/pkg/config"
)

// Credential is an access token for one registry
type Credential struct {
	Registry     string    `json:"registry"`
	Token        string    `json:"token"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving tokens
type CredentialStore interface {
	// Store saves the token of a registry
	Store(cred *Credential) error

	// Retrieve gets the token of a registry
	Retrieve(registry string) (*Credential, error)

	// List returns all stored credentials
	List() ([]*Credential, error)

	// Delete removes the token of a registry
	Delete(registry string) error

	// Exists checks if a token exists for a registry
	Exists(registry string) bool
}

// Manager handles token storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over the system keychain, an encrypted file
// under the XDG data directory and the environment, in that order
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	dataDir, err := DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(dataDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the token using the first store that accepts it
func (m *Manager) Store(cred *Credential) error {
	if cred == nil || cred.Registry == "" {
		return errors.New("registry is required")
	}
	if strings.TrimSpace(cred.Token) == "" {
		return errors.New("token is required")
	}

	registry, err := NormalizeRegistry(cred.Registry)
	if err != nil {
		return err
	}
	stored := *cred
	stored.Registry = registry
	stored.Token = strings.TrimSpace(cred.Token)
	stored.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(&stored); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the token of a registry from the first store that has it
func (m *Manager) Retrieve(registry string) (*Credential, error) {
	key, err := NormalizeRegistry(registry)
	if err != nil {
		return nil, err
	}
	for _, store := range m.stores {
		if cred, err := store.Retrieve(key); err == nil && cred != nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("%w for registry %s", ErrCredentialsNotFound, key)
}

// List returns the newest credential per registry across all stores
func (m *Manager) List() ([]*Credential, error) {
	byRegistry := make(map[string]*Credential)

	for _, store := range m.stores {
		creds, err := store.List()
		if err != nil {
			continue
		}
		for _, cred := range creds {
			if existing, ok := byRegistry[cred.Registry]; !ok || cred.LastModified.After(existing.LastModified) {
				byRegistry[cred.Registry] = cred
			}
		}
	}

	result := make([]*Credential, 0, len(byRegistry))
	for _, cred := range byRegistry {
		result = append(result, cred)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Registry < result[j].Registry })
	return result, nil
}

// Delete removes the token of a registry from all stores
func (m *Manager) Delete(registry string) error {
	key, err := NormalizeRegistry(registry)
	if err != nil {
		return err
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		if err := store.Delete(key); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for registry %s", ErrCredentialsNotFound, key)
	}
	return nil
}

// ResolveToken fills cfg.Registry.Token from the stores unless a token was
// configured explicitly. A missing token is not an error: the public
// registry needs none.
func ResolveToken(m *Manager, cfg *config.Config) {
	if cfg.Registry.Token != "" || m == nil {
		return
	}
	if cred, err := m.Retrieve(cfg.Registry.RegistryURL); err == nil {
		cfg.Registry.Token = cred.Token
	}
}

// NormalizeRegistry reduces a registry URL to scheme://host/path without a
// trailing slash so that equivalent spellings share one entry
func NormalizeRegistry(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid registry url %q", ErrInvalidCredentials, raw)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/"), nil
}

// DataDir returns the directory holding the encrypted credential file
func DataDir() (string, error) {
	dir := filepath.Join(xdg.DataHome, config.AppName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// Sanitize returns a copy of cred with the token masked
func Sanitize(cred *Credential) *Credential {
	if cred == nil {
		return nil
	}
	return &Credential{
		Registry:     cred.Registry,
		Token:        maskString(cred.Token),
		LastModified: cred.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
