package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/zalando/go-keyring"
)

const (
	keyringService  = "scopusharvest"
	keyringPrefix   = "profile_"
	keyringIndexKey = "profiles"
)

// KeyringStore keeps accounts in the system keychain. The keychain cannot
// enumerate entries, so profile names are tracked in a separate index item.
type KeyringStore struct{}

// NewKeyringStore returns a store after checking the keychain is reachable
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("%w: keyring: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, testKey)
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Name() string { return "keyring" }

func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Profile == "" {
		return ErrInvalidCredentials
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := keyring.Set(keyringService, keyringPrefix+account.Profile, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(account.Profile, true)
}

func (k *KeyringStore) Retrieve(profile string) (*Account, error) {
	if profile == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, keyringPrefix+profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return &account, nil
}

func (k *KeyringStore) List() ([]*Account, error) {
	profiles, err := k.index()
	if err != nil {
		return nil, err
	}

	var accounts []*Account
	for _, p := range profiles {
		account, err := k.Retrieve(p)
		if err != nil {
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (k *KeyringStore) Delete(profile string) error {
	if profile == "" {
		return ErrInvalidCredentials
	}
	if err := keyring.Delete(keyringService, keyringPrefix+profile); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrCredentialsNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(profile, false)
}

func (k *KeyringStore) Exists(profile string) bool {
	if profile == "" {
		return false
	}
	_, err := keyring.Get(keyringService, keyringPrefix+profile)
	return err == nil
}

func (k *KeyringStore) index() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}
	var profiles []string
	if err := json.Unmarshal([]byte(data), &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse keyring index: %w", err)
	}
	return profiles, nil
}

func (k *KeyringStore) updateIndex(profile string, present bool) error {
	profiles, err := k.index()
	if err != nil {
		return err
	}

	set := make(map[string]bool, len(profiles)+1)
	for _, p := range profiles {
		set[p] = true
	}
	if present {
		set[profile] = true
	} else {
		delete(set, profile)
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)

	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return keyring.Set(keyringService, keyringIndexKey, string(data))
}
