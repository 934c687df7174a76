package license

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"coursesmith/internal/security"
)

// CachedSession is the decrypted shape of the "remember me" blob.
type CachedSession struct {
	Email      string     `json:"email"`
	LicenseKey string     `json:"license_key"`
	Tier       string     `json:"tier"`
	ExpiresAt  *time.Time `json:"expires_at"`
	HWID       string     `json:"hwid"`
	SavedAt    time.Time  `json:"saved_at"`
}

// fingerprinter supplies the current machine fingerprint.
type fingerprinter interface {
	CurrentFingerprint() string
}

// SessionCache persists the last successful validation to disk,
// encrypted under a machine-bound key so the blob is useless when
// copied to another machine. The cached credentials are re-validated
// against the store at load time; the blob is a convenience, not an
// authority.
type SessionCache struct {
	path   string
	salt   string
	fp     fingerprinter
	logger *slog.Logger
}

// NewSessionCache creates a cache at path, keyed by the machine
// fingerprint and the static application salt.
func NewSessionCache(path, salt string, fp fingerprinter, logger *slog.Logger) *SessionCache {
	return &SessionCache{
		path:   path,
		salt:   salt,
		fp:     fp,
		logger: logger.With(slog.String("component", "session_cache")),
	}
}

// Save encrypts and writes the session blob atomically.
func (c *SessionCache) Save(session *Session) error {
	blob := CachedSession{
		Email:      session.Email,
		LicenseKey: session.LicenseKey,
		Tier:       session.Tier,
		ExpiresAt:  session.ExpiresAt,
		HWID:       c.fp.CurrentFingerprint(),
		SavedAt:    time.Now().UTC(),
	}

	plaintext, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	vault := security.NewVault(blob.HWID, c.salt)
	ciphertext, err := vault.Encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	c.logger.Debug("session cached",
		slog.String("path", c.path),
		slog.String("email", blob.Email),
	)
	return nil
}

// Load decrypts the cached blob. It returns nil (and removes the file)
// when the file is absent, undecryptable, corrupt, or was saved by a
// different machine. A non-nil result still needs re-validation by the
// manager.
func (c *SessionCache) Load() *CachedSession {
	ciphertext, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}

	current := c.fp.CurrentFingerprint()
	vault := security.NewVault(current, c.salt)

	plaintext, err := vault.Decrypt(ciphertext)
	if err != nil {
		c.logger.Warn("cached session is unreadable, removing it",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)
		c.Clear()
		return nil
	}

	var blob CachedSession
	if err := json.Unmarshal(plaintext, &blob); err != nil {
		c.logger.Warn("cached session is corrupt, removing it",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)
		c.Clear()
		return nil
	}

	if !security.SecureCompare([]byte(blob.HWID), []byte(current)) {
		c.logger.Warn("cached session belongs to different hardware, removing it",
			slog.String("path", c.path),
		)
		c.Clear()
		return nil
	}

	return &blob
}

// Clear removes the cached blob. Best effort, idempotent.
func (c *SessionCache) Clear() {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove cached session",
			slog.String("path", c.path),
			slog.String("error", err.Error()),
		)
	}
}
