package secret_manager

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const keyringService = "chatrelay"

// ErrSecretNotFound is returned when a secret manager has no value for the
// requested name. Backend failures are returned as other errors.
var ErrSecretNotFound = errors.New("secret not found")

type SecretManager interface {
	GetSecret(secretName string) (string, error)
	GetType() SecretManagerType
}

type SecretManagerType string

const (
	EnvSecretManagerType       SecretManagerType = "env"
	MockSecretManagerType      SecretManagerType = "mock"
	KeyringSecretManagerType   SecretManagerType = "keyring"
	CompositeSecretManagerType SecretManagerType = "composite"
)

// EnvSecretManager reads secrets from environment variables of the same name.
type EnvSecretManager struct{}

func (e EnvSecretManager) GetSecret(secretName string) (string, error) {
	secret := os.Getenv(secretName)
	if secret == "" {
		return "", fmt.Errorf("%w: %s not set in environment", ErrSecretNotFound, secretName)
	}
	return secret, nil
}

func (e EnvSecretManager) GetType() SecretManagerType {
	return EnvSecretManagerType
}

type KeyringSecretManager struct{}

func (k KeyringSecretManager) SetSecret(secretName string, secret string) error {
	err := keyring.Set(keyringService, secretName, secret)
	if err != nil {
		return fmt.Errorf("error setting %s in keyring: %w", secretName, err)
	}
	return nil
}

func (k KeyringSecretManager) GetSecret(secretName string) (string, error) {
	secret, err := keyring.Get(keyringService, secretName)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: %s not in keyring", ErrSecretNotFound, secretName)
	}
	if err != nil {
		return "", fmt.Errorf("error retrieving %s from keyring: %w", secretName, err)
	}
	return secret, nil
}

func (k KeyringSecretManager) DeleteSecret(secretName string) error {
	err := keyring.Delete(keyringService, secretName)
	if err != nil {
		return fmt.Errorf("error deleting %s from keyring: %w", secretName, err)
	}
	return nil
}

func (k KeyringSecretManager) GetType() SecretManagerType {
	return KeyringSecretManagerType
}

type MockSecretManager struct {
	secrets map[string]string
}

func NewMockSecretManager(secrets map[string]string) *MockSecretManager {
	return &MockSecretManager{secrets: secrets}
}

func (m *MockSecretManager) GetSecret(secretName string) (string, error) {
	if secret, ok := m.secrets[secretName]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, secretName)
}

func (m *MockSecretManager) SetSecret(secretName string, secret string) error {
	if m.secrets == nil {
		m.secrets = make(map[string]string)
	}
	m.secrets[secretName] = secret
	return nil
}

func (m *MockSecretManager) GetType() SecretManagerType {
	return MockSecretManagerType
}

// CompositeSecretManager asks each manager in order. A not-found answer moves
// on to the next manager; any other error stops the lookup.
type CompositeSecretManager struct {
	managers []SecretManager
}

func NewCompositeSecretManager(managers ...SecretManager) *CompositeSecretManager {
	return &CompositeSecretManager{managers: managers}
}

func (c *CompositeSecretManager) GetSecret(secretName string) (string, error) {
	for _, manager := range c.managers {
		secret, err := manager.GetSecret(secretName)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, secretName)
}

func (c *CompositeSecretManager) GetType() SecretManagerType {
	return CompositeSecretManagerType
}

// GetSecretManager returns a SecretManager instance of the specified type.
// The default is environment first, then the OS keyring.
func GetSecretManager(smType SecretManagerType) SecretManager {
	switch smType {
	case KeyringSecretManagerType:
		return &KeyringSecretManager{}
	case EnvSecretManagerType:
		return &EnvSecretManager{}
	case MockSecretManagerType:
		return &MockSecretManager{}
	default:
		return NewCompositeSecretManager(&EnvSecretManager{}, &KeyringSecretManager{})
	}
}

// GetFirstSecret returns the first of names that the manager can resolve.
func GetFirstSecret(sm SecretManager, names ...string) (string, error) {
	for _, name := range names {
		secret, err := sm.GetSecret(name)
		if err == nil {
			return secret, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrSecretNotFound, names)
}
