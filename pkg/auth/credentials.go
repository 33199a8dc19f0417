package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// DefaultProfile is used when no profile name is given
const DefaultProfile = "default"

// Account holds the credentials sent with every search request
type Account struct {
	Profile      string    `json:"profile"`
	APIKey       string    `json:"api_key"`
	InstToken    string    `json:"inst_token,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(profile string) (*Account, error)
	List() ([]*Account, error)
	Delete(profile string) error
	Exists(profile string) bool
	Name() string
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)

// Manager tries each store in order: keyring, encrypted file, environment
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager with every backend available on this host
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Stores returns the backend names in lookup order
func (m *Manager) Stores() []string {
	names := make([]string, len(m.stores))
	for i, s := range m.stores {
		names[i] = s.Name()
	}
	return names
}

// Store saves the account in the first store that accepts it and returns
// that store's name
func (m *Manager) Store(account *Account) (string, error) {
	if account == nil {
		return "", ErrInvalidCredentials
	}
	account.APIKey = strings.TrimSpace(account.APIKey)
	if account.APIKey == "" {
		return "", fmt.Errorf("%w: API key is required", ErrInvalidCredentials)
	}
	if account.Profile == "" {
		account.Profile = DefaultProfile
	}
	account.LastModified = time.Now()

	var errs []error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return store.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
	}
	if len(errs) == 0 {
		return "", errors.New("no available credential stores")
	}
	return "", fmt.Errorf("failed to store credentials: %w", errors.Join(errs...))
}

// Retrieve gets the profile from the first store that has it
func (m *Manager) Retrieve(profile string) (*Account, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	for _, store := range m.stores {
		if account, err := store.Retrieve(profile); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for profile %s", ErrCredentialsNotFound, profile)
}

// List returns every profile, newest version winning across stores
func (m *Manager) List() ([]*Account, error) {
	byProfile := make(map[string]*Account)
	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := byProfile[account.Profile]; !ok || account.LastModified.After(existing.LastModified) {
				byProfile[account.Profile] = account
			}
		}
	}

	result := make([]*Account, 0, len(byProfile))
	for _, account := range byProfile {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Profile < result[j].Profile })
	return result, nil
}

// Delete removes the profile from every writable store
func (m *Manager) Delete(profile string) error {
	if profile == "" {
		profile = DefaultProfile
	}

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		err := store.Delete(profile)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrCredentialsNotFound):
		default:
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for profile %s", ErrCredentialsNotFound, profile)
	}
	return nil
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "scopusharvest")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "scopusharvest")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "scopusharvest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "scopusharvest")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// SanitizeAccount returns a copy with secrets masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	masked := *account
	masked.APIKey = MaskString(account.APIKey)
	if account.InstToken != "" {
		masked.InstToken = MaskString(account.InstToken)
	}
	return &masked
}

// MaskString masks all but the first 4 and last 4 characters
func MaskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
