package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "coursesmith/internal/errors"
)

// FileStore is the local license mirror: a single JSON file holding
// the records this machine has seen, consulted when the primary store
// is unreachable. Writes go through a temp file and rename so a crash
// never leaves a half-written mirror.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	logger *slog.Logger
}

// fileDocument is the on-disk shape of the mirror.
type fileDocument struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Records []LicenseRecord `json:"records"`
}

// NewFileStore creates a mirror at path. The file is created lazily on
// first write.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With(slog.String("component", "file_store")),
	}
}

// Lookup finds a record in the mirror.
func (s *FileStore) Lookup(ctx context.Context, licenseKey string) (*LicenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	for i := range doc.Records {
		if doc.Records[i].LicenseKey == licenseKey {
			return doc.Records[i].Clone(), nil
		}
	}
	return nil, apperrors.ErrRecordNotFound
}

// UpdateBoundDevices replaces the device set in the mirrored record.
func (s *FileStore) UpdateBoundDevices(ctx context.Context, licenseKey string, devices []string) error {
	return s.mutate(licenseKey, func(rec *LicenseRecord) {
		rec.BoundDevices = append([]string(nil), devices...)
	})
}

// BindDevice appends the fingerprint if there is room. The mirror is
// single-process, so the package mutex is sufficient for atomicity.
func (s *FileStore) BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error) {
	var bound bool
	err := s.mutate(licenseKey, func(rec *LicenseRecord) {
		if rec.HasDevice(fingerprint) {
			bound = true
			return
		}
		if rec.AtDeviceLimit() {
			return
		}
		rec.BoundDevices = append(rec.BoundDevices, fingerprint)
		bound = true
	})
	return bound, err
}

// Insert adds a record to the mirror, replacing any existing record
// with the same key.
func (s *FileStore) Insert(ctx context.Context, rec *LicenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil && !isMissing(err) {
		return err
	}

	replaced := false
	for i := range doc.Records {
		if doc.Records[i].LicenseKey == rec.LicenseKey {
			doc.Records[i] = *rec.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Records = append(doc.Records, *rec.Clone())
	}
	return s.write(doc)
}

// Mirror is Insert under a name that reads better at call sites that
// copy primary-store results down for offline use.
func (s *FileStore) Mirror(ctx context.Context, rec *LicenseRecord) error {
	return s.Insert(ctx, rec)
}

// SetBanned flips the ban flag in the mirrored record.
func (s *FileStore) SetBanned(ctx context.Context, licenseKey string, banned bool) error {
	return s.mutate(licenseKey, func(rec *LicenseRecord) { rec.IsBanned = banned })
}

// Extend moves the mirrored expiration forward.
func (s *FileStore) Extend(ctx context.Context, licenseKey string, validUntil time.Time) error {
	return s.mutate(licenseKey, func(rec *LicenseRecord) {
		t := validUntil
		rec.ValidUntil = &t
	})
}

// List returns all mirrored records.
func (s *FileStore) List(ctx context.Context) ([]LicenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		if isMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc.Records, nil
}

// Ping reports whether the mirror directory is usable.
func (s *FileStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnreachable, err)
	}
	return nil
}

// mutate applies fn to the named record and persists the result.
func (s *FileStore) mutate(licenseKey string, fn func(*LicenseRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	for i := range doc.Records {
		if doc.Records[i].LicenseKey == licenseKey {
			fn(&doc.Records[i])
			return s.write(doc)
		}
	}
	return apperrors.ErrRecordNotFound
}

// read loads the document. A missing file yields ErrRecordNotFound so
// lookups against a never-written mirror fail cleanly; a corrupt file
// is logged and treated the same way.
func (s *FileStore) read() (*fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileDocument{Version: 1}, apperrors.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to read license mirror: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("license mirror is corrupt, treating as empty",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return &fileDocument{Version: 1}, apperrors.ErrRecordNotFound
	}
	return &doc, nil
}

// write persists the document atomically with owner-only permissions.
func (s *FileStore) write(doc *fileDocument) error {
	doc.Version = 1
	doc.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal license mirror: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write license mirror: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace license mirror: %w", err)
	}

	s.logger.Debug("license mirror saved",
		slog.String("path", s.path),
		slog.Int("records", len(doc.Records)),
		slog.Int("size_bytes", len(data)),
	)
	return nil
}

// isMissing reports whether read signalled an absent or corrupt mirror.
func isMissing(err error) bool {
	return errors.Is(err, apperrors.ErrRecordNotFound)
}
