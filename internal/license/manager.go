package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"coursesmith/internal/clock"
	apperrors "coursesmith/internal/errors"
	"coursesmith/internal/store"
)

// entitlementStore is the store surface the manager depends on. The
// failover wrapper satisfies it; tests substitute fakes.
type entitlementStore interface {
	Lookup(ctx context.Context, licenseKey string) (*store.LicenseRecord, bool, error)
	BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error)
}

// Manager is the validation facade. Every check the engine performs
// funnels through Validate, which runs the gate sequence in order and
// reports only the first failure:
//
//	format → lookup → email → ban → expiry → device binding → session
//
// Validate blocks on store and time-server round trips; call it off
// any latency-sensitive goroutine.
type Manager struct {
	store   entitlementStore
	binding *DeviceBindingValidator
	clock   clock.Clock
	fp      fingerprinter
	cache   *SessionCache
	session sessionCell
	logger  *slog.Logger
	metrics *Metrics
}

// NewManager assembles the facade from its collaborators. metrics may
// be nil in tests.
func NewManager(st entitlementStore, clk clock.Clock, fp fingerprinter, cache *SessionCache, logger *slog.Logger, metrics *Metrics) *Manager {
	logger = logger.With(slog.String("component", "entitlement_manager"))
	return &Manager{
		store:   st,
		binding: NewDeviceBindingValidator(st, logger),
		clock:   clk,
		fp:      fp,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Validate runs the full gate sequence for the credentials and, on
// success, installs a fresh in-process session. Validation is
// all-or-nothing: any gate failure yields an invalid result carrying
// the first failing reason, and the session is left untouched except
// that a previously valid session is cleared on failure.
func (m *Manager) Validate(ctx context.Context, email, key string) Result {
	start := time.Now()
	result := m.validate(ctx, email, key)
	m.metrics.recordValidation(ctx, start, result)

	if result.Valid {
		m.logger.InfoContext(ctx, "license validated",
			slog.String("license_key", store.MaskKey(Normalize(key))),
			slog.String("tier", result.Tier),
			slog.Bool("offline", result.Offline),
			slog.Duration("duration", time.Since(start)),
		)
	} else {
		m.session.clear()
		m.logger.InfoContext(ctx, "license validation failed",
			slog.String("license_key", store.MaskKey(Normalize(key))),
			slog.String("reason", string(result.Reason)),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return result
}

func (m *Manager) validate(ctx context.Context, email, key string) Result {
	key = Normalize(key)

	// Gate 1: shape only. The store record is authoritative; this is a
	// cheap rejection, not a signature check.
	if !IsWellFormed(key) {
		return deny(ReasonInvalidFormat)
	}

	// Gate 2: store lookup, with failover to the local mirror.
	rec, offline, err := m.store.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			return deny(ReasonNotFound)
		}
		return deny(ReasonStoreUnreachable)
	}

	// Gate 3: the key must belong to the presented email.
	if !strings.EqualFold(strings.TrimSpace(email), strings.TrimSpace(rec.Email)) {
		return deny(ReasonEmailMismatch)
	}

	// Gate 4: bans win over everything that follows.
	if rec.IsBanned {
		return deny(ReasonRevoked)
	}

	// Gate 5: expiry against network time, so a rolled-back local
	// clock does not revive the license. Skipped for perpetual records.
	if rec.ValidUntil != nil {
		now := m.clock.Now(ctx)
		if now.After(*rec.ValidUntil) {
			return deny(ReasonExpired)
		}
	}

	limits, err := LimitsFor(rec.Tier)
	if err != nil {
		m.logger.WarnContext(ctx, "record carries unknown tier",
			slog.String("license_key", store.MaskKey(key)),
			slog.String("tier", rec.Tier),
		)
		return deny(ReasonNotFound)
	}

	// Gate 6: device binding.
	outcome, err := m.binding.Check(ctx, rec, limits, m.fp.CurrentFingerprint())
	if err != nil {
		return deny(ReasonStoreUnreachable)
	}
	if !outcome.Allowed() {
		return deny(ReasonDeviceLimitReached)
	}
	if outcome == BindingNew && m.metrics != nil {
		m.metrics.DeviceBindings.Add(ctx, 1)
	}

	// Gate 7: materialize the session.
	session := m.session.set(rec.Email, rec.Tier, key, rec.ValidUntil)

	message := "License valid."
	if offline {
		message = "License valid (offline mode)."
	}

	return Result{
		Valid:      true,
		Tier:       rec.Tier,
		Token:      session.Token,
		ExpiresAt:  rec.ValidUntil,
		TierLimits: &limits,
		Message:    message,
		Offline:    offline,
	}
}

// CurrentSession returns a copy of the active session, or nil when the
// process has not validated.
func (m *Manager) CurrentSession() *Session {
	return m.session.get()
}

// RememberSession persists the active session to the encrypted cache
// for quick re-entry on the next run. No-op error when there is no
// session.
func (m *Manager) RememberSession() error {
	session := m.session.get()
	if session == nil {
		return apperrors.ErrNoSession
	}
	return m.cache.Save(session)
}

// RestoreSession attempts to resume from the encrypted cache: the blob
// must decrypt on this hardware, and the cached credentials are then
// re-validated against the store. The cached tier and expiry are never
// trusted blindly. The cache file is cleared on any failure.
func (m *Manager) RestoreSession(ctx context.Context) (Result, bool) {
	blob := m.cache.Load()
	if blob == nil {
		return Result{}, false
	}

	result := m.Validate(ctx, blob.Email, blob.LicenseKey)
	if !result.Valid {
		m.logger.InfoContext(ctx, "cached session failed re-validation, clearing it",
			slog.String("reason", string(result.Reason)),
		)
		m.cache.Clear()
		return result, false
	}

	if m.metrics != nil {
		m.metrics.SessionRestores.Add(ctx, 1)
	}
	return result, true
}

// Logout clears the in-process session and the on-disk cache.
func (m *Manager) Logout() {
	m.session.clear()
	m.cache.Clear()
	m.logger.Info("session cleared")
}
