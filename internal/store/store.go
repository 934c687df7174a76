// Package store persists license records. The primary backend is
// remote (PostgREST, Postgres or Google Sheets); a local file mirror
// serves lookups when the primary is unreachable.
package store

import (
	"context"
	"time"
)

// LicenseRecord is the persisted state of one issued license.
type LicenseRecord struct {
	LicenseKey   string     `json:"license_key"`
	Email        string     `json:"email"`
	Tier         string     `json:"tier"`
	ValidUntil   *time.Time `json:"valid_until"` // nil = no expiration
	IsBanned     bool       `json:"is_banned"`
	BoundDevices []string   `json:"bound_devices"`
	MaxDevices   int        `json:"max_devices"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HasDevice reports whether the fingerprint is already bound.
func (r *LicenseRecord) HasDevice(fingerprint string) bool {
	for _, d := range r.BoundDevices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

// AtDeviceLimit reports whether no further device can be bound.
func (r *LicenseRecord) AtDeviceLimit() bool {
	return len(r.BoundDevices) >= r.MaxDevices
}

// IsExpired reports whether the record has expired at the given
// instant. Records without valid_until never expire.
func (r *LicenseRecord) IsExpired(now time.Time) bool {
	return r.ValidUntil != nil && now.After(*r.ValidUntil)
}

// Clone returns a deep copy so callers can mutate freely.
func (r *LicenseRecord) Clone() *LicenseRecord {
	cp := *r
	cp.BoundDevices = append([]string(nil), r.BoundDevices...)
	if r.ValidUntil != nil {
		t := *r.ValidUntil
		cp.ValidUntil = &t
	}
	return &cp
}

// Stats summarizes the license population for the admin tooling.
type Stats struct {
	Total   int            `json:"total"`
	Active  int            `json:"active"`
	Banned  int            `json:"banned"`
	Expired int            `json:"expired"`
	ByTier  map[string]int `json:"by_tier"`
}

// Store is the persistence contract the entitlement engine depends on.
// Lookup returns errors.ErrRecordNotFound for unknown keys and
// errors.ErrStoreUnreachable when the backend cannot be reached.
type Store interface {
	// Lookup fetches the record for a license key.
	Lookup(ctx context.Context, licenseKey string) (*LicenseRecord, error)

	// UpdateBoundDevices replaces the record's device set wholesale.
	UpdateBoundDevices(ctx context.Context, licenseKey string, devices []string) error

	// BindDevice appends the fingerprint to the record's device set if
	// and only if there is room, as a single atomic operation. It
	// returns true when the device is bound afterwards (newly bound or
	// already present) and false when the record is at its limit.
	BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error)

	// Insert creates a new record. Used by the issuing tool.
	Insert(ctx context.Context, rec *LicenseRecord) error

	// SetBanned flips the ban flag.
	SetBanned(ctx context.Context, licenseKey string, banned bool) error

	// Extend moves the expiration forward.
	Extend(ctx context.Context, licenseKey string, validUntil time.Time) error

	// List returns every record. Admin tooling only.
	List(ctx context.Context) ([]LicenseRecord, error)

	// Ping reports backend reachability.
	Ping(ctx context.Context) error
}

// MaskKey hides most of a license key for log output.
func MaskKey(key string) string {
	if len(key) <= 7 {
		return "***"
	}
	return key[:7] + "****"
}

// ComputeStats derives population stats from a record listing.
func ComputeStats(records []LicenseRecord, now time.Time) *Stats {
	s := &Stats{ByTier: make(map[string]int)}
	s.Total = len(records)
	for i := range records {
		r := &records[i]
		s.ByTier[r.Tier]++
		switch {
		case r.IsBanned:
			s.Banned++
		case r.IsExpired(now):
			s.Expired++
		default:
			s.Active++
		}
	}
	return s
}
