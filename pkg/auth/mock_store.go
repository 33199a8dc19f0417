package auth

import "sync"

// MockStore is an in-memory CredentialStore with error injection
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]Account

	StoreError    error
	RetrieveError error
	DeleteError   error
}

func NewMockStore() *MockStore {
	return &MockStore{accounts: make(map[string]Account)}
}

func (m *MockStore) Name() string { return "mock" }

func (m *MockStore) Store(account *Account) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if account == nil || account.Profile == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Profile] = *account
	return nil
}

func (m *MockStore) Retrieve(profile string) (*Account, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[profile]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (m *MockStore) List() ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		acc := account
		out = append(out, &acc)
	}
	return out, nil
}

func (m *MockStore) Delete(profile string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[profile]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, profile)
	return nil
}

func (m *MockStore) Exists(profile string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[profile]
	return ok
}
