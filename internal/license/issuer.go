package license

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coursesmith/internal/store"
)

// Device limit bounds for issued licenses.
const (
	MinDevices     = 1
	MaxDevicesCap  = 100
	DefaultDevices = 3
)

// Issuer creates license records: it derives the key, computes the
// expiry and writes the record to the store. This is vendor-side
// tooling; the validation path never issues.
type Issuer struct {
	signer *KeySigner
	store  store.Store
}

// NewIssuer wires an issuer to the signer and the primary store.
func NewIssuer(signer *KeySigner, st store.Store) *Issuer {
	return &Issuer{signer: signer, store: st}
}

// Issue derives and persists a license for the buyer. maxDevices is
// clamped to [1, 100]; pass 0 for the default of 3.
//
// Issuance is idempotent by construction: the same buyer, tier and
// duration in the same expiry bucket re-derive the same key, and the
// insert overwrites the previous record.
func (i *Issuer) Issue(ctx context.Context, email, tier string, duration Duration, maxDevices int) (*store.LicenseRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q", email)
	}
	if !IsValidTier(tier) {
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	switch {
	case maxDevices == 0:
		maxDevices = DefaultDevices
	case maxDevices < MinDevices:
		maxDevices = MinDevices
	case maxDevices > MaxDevicesCap:
		maxDevices = MaxDevicesCap
	}

	now := time.Now().UTC()
	key, expiresAt := i.signer.Generate(email, tier, duration, now)

	rec := &store.LicenseRecord{
		LicenseKey:   key,
		Email:        email,
		Tier:         tier,
		ValidUntil:   expiresAt,
		BoundDevices: []string{},
		MaxDevices:   maxDevices,
		CreatedAt:    now,
	}

	if err := i.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist license: %w", err)
	}
	return rec, nil
}

// Revoke bans a license so every subsequent validation reports it
// revoked.
func (i *Issuer) Revoke(ctx context.Context, licenseKey string) error {
	return i.store.SetBanned(ctx, Normalize(licenseKey), true)
}

// Reinstate lifts a ban.
func (i *Issuer) Reinstate(ctx context.Context, licenseKey string) error {
	return i.store.SetBanned(ctx, Normalize(licenseKey), false)
}

// Extend pushes the expiry out by the given duration from the later of
// now and the current expiry, so extending an active license adds time
// instead of restarting it.
func (i *Issuer) Extend(ctx context.Context, licenseKey string, duration Duration) (*time.Time, error) {
	if duration == DurationNone {
		return nil, fmt.Errorf("cannot extend by %q", DurationNone)
	}

	licenseKey = Normalize(licenseKey)
	rec, err := i.store.Lookup(ctx, licenseKey)
	if err != nil {
		return nil, err
	}

	base := time.Now().UTC()
	if rec.ValidUntil != nil && rec.ValidUntil.After(base) {
		base = *rec.ValidUntil
	}

	until := duration.ExpiryFrom(base)
	if err := i.store.Extend(ctx, licenseKey, *until); err != nil {
		return nil, err
	}
	return until, nil
}
