package auth

import (
	"os"
	"time"
)

const envAccountName = "env"

// EnvironmentStore reads a single read-only profile from LIKEGRAB_* variables
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds the profile named "env" (or unnamed) from the environment
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	if name != "" && name != envAccountName {
		return nil, ErrCredentialsNotFound
	}
	account := &Account{
		Name:         envAccountName,
		AuthToken:    os.Getenv("LIKEGRAB_AUTH_TOKEN"),
		CSRFToken:    os.Getenv("LIKEGRAB_CSRF_TOKEN"),
		BearerToken:  os.Getenv("LIKEGRAB_BEARER_TOKEN"),
		UserAgent:    os.Getenv("LIKEGRAB_USER_AGENT"),
		LastModified: time.Now(),
	}
	if !account.HasSession() && !account.HasBearer() {
		return nil, ErrCredentialsNotFound
	}
	return account, nil
}

// List returns the environment profile if one is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
