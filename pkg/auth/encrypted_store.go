package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"pkgmirror/pkg/config"
	"pkgmirror/pkg/storage"
)

const (
	saltSize      = 32
	keySize       = 32
	kdfIterations = 100000
	vaultVersion  = 2
)

// PassphraseEnvVar overrides the generated passphrase of the encrypted store
const PassphraseEnvVar = config.EnvPrefix + "PASSPHRASE"

// vaultAAD binds the ciphertext to this file format
var vaultAAD = []byte(config.AppName + "/tokens")

// vault is the on-disk envelope. The token map is sealed as a whole with
// AES-GCM; byte slices are base64 encoded by encoding/json.
type vault struct {
	Version    int       `json:"version"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	Modified   time.Time `json:"modified"`
}

// tokens maps a normalized registry URL to its credential
type tokens map[string]Credential

// EncryptedFileStore implements CredentialStore using an AES-GCM encrypted
// file. The key is derived with PBKDF2 from a passphrase kept next to the
// file, or from the environment.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// NewEncryptedFileStore opens the store at path. Nothing is read until the
// first operation.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	passphrase, err := loadPassphrase(filepath.Join(filepath.Dir(path), ".passphrase"))
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}

	return &EncryptedFileStore{path: path, passphrase: []byte(passphrase)}, nil
}

// Store saves a credential to the encrypted file
func (e *EncryptedFileStore) Store(cred *Credential) error {
	if cred == nil || cred.Registry == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(t tokens) error {
		t[cred.Registry] = *cred
		return nil
	})
}

// Retrieve gets a credential from the encrypted file
func (e *EncryptedFileStore) Retrieve(registry string) (*Credential, error) {
	if registry == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.Lock()
	t, err := e.open()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	cred, ok := t[registry]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &cred, nil
}

// List returns all stored credentials
func (e *EncryptedFileStore) List() ([]*Credential, error) {
	e.mu.Lock()
	t, err := e.open()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	creds := make([]*Credential, 0, len(t))
	for _, cred := range t {
		c := cred
		creds = append(creds, &c)
	}
	return creds, nil
}

// Delete removes a credential. The file goes away with the last one.
func (e *EncryptedFileStore) Delete(registry string) error {
	if registry == "" {
		return ErrInvalidCredentials
	}
	return e.update(func(t tokens) error {
		if _, ok := t[registry]; !ok {
			return ErrCredentialsNotFound
		}
		delete(t, registry)
		return nil
	})
}

// Exists checks if a credential exists
func (e *EncryptedFileStore) Exists(registry string) bool {
	cred, err := e.Retrieve(registry)
	return err == nil && cred != nil
}

// update applies fn to the decrypted tokens and seals the result
func (e *EncryptedFileStore) update(fn func(tokens) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.open()
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}

	if len(t) == 0 {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove credential file: %w", err)
		}
		return nil
	}
	return e.seal(t)
}

// open reads and decrypts the file. A missing file is an empty map.
func (e *EncryptedFileStore) open() (tokens, error) {
	var v vault
	if err := storage.ReadJSON(e.path, &v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return tokens{}, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	if v.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported credential file version %d", v.Version)
	}

	gcm, err := e.cipher(v.Salt)
	if err != nil {
		return nil, err
	}
	if len(v.Nonce) != gcm.NonceSize() {
		return nil, errors.New("credential file has an invalid nonce")
	}

	plain, err := gcm.Open(nil, v.Nonce, v.Ciphertext, vaultAAD)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential file (wrong passphrase?): %w", err)
	}

	t := tokens{}
	if err := json.Unmarshal(plain, &t); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return t, nil
}

// seal encrypts t under a fresh salt and nonce and replaces the file
func (e *EncryptedFileStore) seal(t tokens) error {
	plain, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	v := vault{Version: vaultVersion, Modified: time.Now().UTC()}
	if v.Salt, err = randomBytes(saltSize); err != nil {
		return err
	}
	gcm, err := e.cipher(v.Salt)
	if err != nil {
		return err
	}
	if v.Nonce, err = randomBytes(gcm.NonceSize()); err != nil {
		return err
	}
	v.Ciphertext = gcm.Seal(nil, v.Nonce, plain, vaultAAD)

	return storage.WriteFileAtomic(e.path, 0600, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// cipher derives the file key from the passphrase and salt
func (e *EncryptedFileStore) cipher(salt []byte) (cipher.AEAD, error) {
	if len(salt) != saltSize {
		return nil, errors.New("credential file has an invalid salt")
	}
	key := pbkdf2.Key(e.passphrase, salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadPassphrase returns the passphrase from the environment, or from file,
// generating and saving one on first use
func loadPassphrase(file string) (string, error) {
	if pass := os.Getenv(PassphraseEnvVar); pass != "" {
		return pass, nil
	}

	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b, err := randomBytes(32)
	if err != nil {
		return "", err
	}
	passphrase := base64.URLEncoding.EncodeToString(b)

	err = storage.WriteFileAtomic(file, 0600, func(w io.Writer) error {
		_, err := io.WriteString(w, passphrase)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}
