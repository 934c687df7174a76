package config

import (
	"encoding/json"
	"fmt"
	"os"

	"coursesmith/internal/security"
)

// StoreCredentials is the plaintext shape inside the encrypted
// credentials file.
type StoreCredentials struct {
	RESTAPIKey  string `json:"rest_api_key,omitempty"`
	PostgresDSN string `json:"postgres_dsn,omitempty"`
}

// loadEncryptedCredentials decrypts the optional credentials file and
// fills store credential fields that are still empty. Env and YAML
// values win over file contents.
func (c *Config) loadEncryptedCredentials() error {
	if c.Store.EncryptedCredentialsFile == "" {
		return nil
	}
	if c.Store.CredentialsPassphrase == "" {
		return fmt.Errorf("encrypted credentials file %s set but no passphrase provided", c.Store.EncryptedCredentialsFile)
	}

	data, err := os.ReadFile(c.Store.EncryptedCredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	var payload security.EncryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("credentials file is not a valid payload: %w", err)
	}

	plaintext, err := security.DecryptCredentials(&payload, []byte(c.Store.CredentialsPassphrase))
	if err != nil {
		return fmt.Errorf("failed to decrypt credentials file: %w", err)
	}

	var creds StoreCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return fmt.Errorf("decrypted credentials are malformed: %w", err)
	}

	if c.Store.RESTAPIKey == "" {
		c.Store.RESTAPIKey = creds.RESTAPIKey
	}
	if c.Store.PostgresDSN == "" {
		c.Store.PostgresDSN = creds.PostgresDSN
	}
	return nil
}

// WriteEncryptedCredentials encrypts creds under passphrase and writes
// the payload to path atomically. Counterpart of
// loadEncryptedCredentials, used by the vendor tooling.
func WriteEncryptedCredentials(path string, creds StoreCredentials, passphrase []byte) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	payload, err := security.EncryptCredentials(plaintext, passphrase)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
