package store

import (
	"context"
	"sync"
	"time"

	apperrors "coursesmith/internal/errors"
)

// MemoryStore is an in-memory Store used in tests and local
// development. When Unreachable is set every operation reports the
// backend as down, exercising the failover path.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]*LicenseRecord
	Unreachable bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*LicenseRecord)}
}

func (s *MemoryStore) down() error {
	if s.Unreachable {
		return apperrors.ErrStoreUnreachable
	}
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, licenseKey string) (*LicenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return nil, err
	}
	rec, ok := s.records[licenseKey]
	if !ok {
		return nil, apperrors.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateBoundDevices(ctx context.Context, licenseKey string, devices []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return err
	}
	rec, ok := s.records[licenseKey]
	if !ok {
		return apperrors.ErrRecordNotFound
	}
	rec.BoundDevices = append([]string(nil), devices...)
	return nil
}

func (s *MemoryStore) BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return false, err
	}
	rec, ok := s.records[licenseKey]
	if !ok {
		return false, apperrors.ErrRecordNotFound
	}
	if rec.HasDevice(fingerprint) {
		return true, nil
	}
	if rec.AtDeviceLimit() {
		return false, nil
	}
	rec.BoundDevices = append(rec.BoundDevices, fingerprint)
	return true, nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec *LicenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return err
	}
	s.records[rec.LicenseKey] = rec.Clone()
	return nil
}

func (s *MemoryStore) SetBanned(ctx context.Context, licenseKey string, banned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return err
	}
	rec, ok := s.records[licenseKey]
	if !ok {
		return apperrors.ErrRecordNotFound
	}
	rec.IsBanned = banned
	return nil
}

func (s *MemoryStore) Extend(ctx context.Context, licenseKey string, validUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return err
	}
	rec, ok := s.records[licenseKey]
	if !ok {
		return apperrors.ErrRecordNotFound
	}
	t := validUntil
	rec.ValidUntil = &t
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]LicenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.down(); err != nil {
		return nil, err
	}
	records := make([]LicenseRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, *rec.Clone())
	}
	return records, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down()
}
