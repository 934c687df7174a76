package store

import (
	"context"
	"errors"
	"log/slog"

	apperrors "coursesmith/internal/errors"
)

// Failover fronts the primary store with the local file mirror so the
// engine keeps working without connectivity. Successful primary
// lookups are copied into the mirror; when the primary is unreachable
// the mirror answers instead and the result is flagged offline.
type Failover struct {
	primary Store
	mirror  *FileStore
	logger  *slog.Logger
}

// NewFailover wraps primary with the given mirror.
func NewFailover(primary Store, mirror *FileStore, logger *slog.Logger) *Failover {
	return &Failover{
		primary: primary,
		mirror:  mirror,
		logger:  logger.With(slog.String("component", "store_failover")),
	}
}

// Lookup fetches a record, falling back to the mirror when the primary
// is unreachable. The offline flag is true only for mirror answers.
func (f *Failover) Lookup(ctx context.Context, licenseKey string) (*LicenseRecord, bool, error) {
	rec, err := f.primary.Lookup(ctx, licenseKey)
	if err == nil {
		if mirrorErr := f.mirror.Mirror(ctx, rec); mirrorErr != nil {
			f.logger.WarnContext(ctx, "failed to mirror license record locally",
				slog.String("license_key", MaskKey(licenseKey)),
				slog.String("error", mirrorErr.Error()),
			)
		}
		return rec, false, nil
	}

	if !errors.Is(err, apperrors.ErrStoreUnreachable) {
		return nil, false, err
	}

	f.logger.WarnContext(ctx, "primary store unreachable, consulting local mirror",
		slog.String("license_key", MaskKey(licenseKey)),
		slog.String("error", err.Error()),
	)

	rec, mirrorErr := f.mirror.Lookup(ctx, licenseKey)
	if mirrorErr != nil {
		// Nothing cached either: surface the original outage so the
		// caller reports the store problem, not a bogus miss.
		if errors.Is(mirrorErr, apperrors.ErrRecordNotFound) {
			return nil, false, err
		}
		return nil, false, mirrorErr
	}
	return rec, true, nil
}

// BindDevice binds on the primary, or on the mirror while offline. A
// mirror-side bind is reconciled the next time the primary lookup
// succeeds and overwrites the mirror copy.
func (f *Failover) BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error) {
	bound, err := f.primary.BindDevice(ctx, licenseKey, fingerprint)
	if err == nil {
		// Keep the mirror's device set in step with the primary.
		if rec, lookupErr := f.primary.Lookup(ctx, licenseKey); lookupErr == nil {
			_ = f.mirror.Mirror(ctx, rec)
		}
		return bound, nil
	}

	if !errors.Is(err, apperrors.ErrStoreUnreachable) {
		return false, err
	}

	f.logger.WarnContext(ctx, "primary store unreachable, binding against local mirror",
		slog.String("license_key", MaskKey(licenseKey)),
	)
	return f.mirror.BindDevice(ctx, licenseKey, fingerprint)
}

// UpdateBoundDevices updates the primary and keeps the mirror in step.
func (f *Failover) UpdateBoundDevices(ctx context.Context, licenseKey string, devices []string) error {
	err := f.primary.UpdateBoundDevices(ctx, licenseKey, devices)
	if err == nil {
		_ = f.mirror.UpdateBoundDevices(ctx, licenseKey, devices)
		return nil
	}
	if !errors.Is(err, apperrors.ErrStoreUnreachable) {
		return err
	}
	return f.mirror.UpdateBoundDevices(ctx, licenseKey, devices)
}

// Ping reports primary reachability.
func (f *Failover) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}
