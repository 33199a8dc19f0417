package auth

import "os"

const (
	EnvAPIKey    = "SCOPUS_API_KEY"
	EnvInstToken = "SCOPUS_INST_TOKEN"
)

// EnvironmentStore reads a read-only account from SCOPUS_API_KEY and
// SCOPUS_INST_TOKEN. It answers for any profile name.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "environment" }

func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(profile string) (*Account, error) {
	apiKey := os.Getenv(EnvAPIKey)
	if apiKey == "" {
		return nil, ErrCredentialsNotFound
	}
	if profile == "" {
		profile = DefaultProfile
	}
	return &Account{
		Profile:   profile,
		APIKey:    apiKey,
		InstToken: os.Getenv(EnvInstToken),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve(DefaultProfile)
	if err != nil {
		return nil, nil
	}
	return []*Account{account}, nil
}

func (e *EnvironmentStore) Delete(profile string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(profile string) bool {
	return os.Getenv(EnvAPIKey) != ""
}
