package auth

import (
	"os"
	"time"

	"pkgmirror/pkg/config"
)

// TokenEnvVar holds a token that applies to whichever registry is asked for
const TokenEnvVar = config.EnvPrefix + "REGISTRY_TOKEN"

// EnvironmentStore implements CredentialStore using environment variables
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the token from the environment for any registry
func (e *EnvironmentStore) Retrieve(registry string) (*Credential, error) {
	token := os.Getenv(TokenEnvVar)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if registry == "" {
		registry = "env"
	}
	return &Credential{
		Registry:     registry,
		Token:        token,
		LastModified: time.Now(),
	}, nil
}

// List returns the environment token, if set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(registry string) error {
	return ErrStoreUnavailable
}

// Exists checks if the environment token is set
func (e *EnvironmentStore) Exists(registry string) bool {
	return os.Getenv(TokenEnvVar) != ""
}
