package auth

import (
	"sort"
	"sync"
)

// MockStore is an in-memory CredentialStore for tests. Setting FailWrites
// makes Store and Delete fail, like a locked keychain.
type MockStore struct {
	FailWrites error

	mu    sync.Mutex
	creds map[string]Credential
}

func NewMockStore() *MockStore {
	return &MockStore{creds: map[string]Credential{}}
}

// NewMockManager returns a Manager backed by one MockStore
func NewMockManager() (*Manager, *MockStore) {
	s := NewMockStore()
	return NewManagerWithStores(s), s
}

func (m *MockStore) Store(cred *Credential) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if cred == nil || cred.Registry == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	m.creds[cred.Registry] = *cred
	m.mu.Unlock()
	return nil
}

func (m *MockStore) Retrieve(registry string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.creds[registry]; ok {
		return &c, nil
	}
	if registry == "" {
		return nil, ErrInvalidCredentials
	}
	return nil, ErrCredentialsNotFound
}

func (m *MockStore) List() ([]*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.creds))
	for k := range m.creds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*Credential, len(keys))
	for i, k := range keys {
		c := m.creds[k]
		out[i] = &c
	}
	return out, nil
}

func (m *MockStore) Delete(registry string) error {
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[registry]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.creds, registry)
	return nil
}

func (m *MockStore) Exists(registry string) bool {
	_, err := m.Retrieve(registry)
	return err == nil
}

// Count is the number of stored credentials
func (m *MockStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds)
}
