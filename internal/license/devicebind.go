package license

import (
	"context"
	"fmt"
	"log/slog"

	"coursesmith/internal/store"
)

// BindingOutcome describes where a validation attempt landed in the
// device-binding state machine.
type BindingOutcome int

const (
	// BindingSkipped: the tier does not enforce device binding.
	BindingSkipped BindingOutcome = iota
	// BindingExisting: this machine was already bound.
	BindingExisting
	// BindingNew: this machine was bound by this attempt.
	BindingNew
	// BindingDenied: the record is at its device limit.
	BindingDenied
)

func (o BindingOutcome) String() string {
	switch o {
	case BindingSkipped:
		return "skipped"
	case BindingExisting:
		return "existing"
	case BindingNew:
		return "new"
	case BindingDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Allowed reports whether the outcome permits the validation to pass.
func (o BindingOutcome) Allowed() bool { return o != BindingDenied }

// deviceBinder is the store capability the validator needs: an atomic
// append-if-room operation.
type deviceBinder interface {
	BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error)
}

// DeviceBindingValidator decides whether the current machine may use a
// license record, binding it when there is room. The append itself is
// delegated to the store as a single conditional operation, so two
// machines activating the same key concurrently cannot overshoot
// max_devices.
type DeviceBindingValidator struct {
	binder deviceBinder
	logger *slog.Logger
}

// NewDeviceBindingValidator wires the validator to a store.
func NewDeviceBindingValidator(binder deviceBinder, logger *slog.Logger) *DeviceBindingValidator {
	return &DeviceBindingValidator{
		binder: binder,
		logger: logger.With(slog.String("component", "device_binding")),
	}
}

// Check runs the binding state machine for the record and fingerprint:
//
//  1. Tier does not require binding → BindingSkipped, no mutation.
//  2. Fingerprint already bound → BindingExisting, no mutation.
//  3. Room remains → bind atomically → BindingNew.
//  4. Otherwise → BindingDenied, no mutation.
func (v *DeviceBindingValidator) Check(ctx context.Context, rec *store.LicenseRecord, limits TierLimits, fingerprint string) (BindingOutcome, error) {
	if !limits.HWIDRequired {
		return BindingSkipped, nil
	}

	if rec.HasDevice(fingerprint) {
		return BindingExisting, nil
	}

	bound, err := v.binder.BindDevice(ctx, rec.LicenseKey, fingerprint)
	if err != nil {
		return BindingDenied, fmt.Errorf("device bind failed: %w", err)
	}

	outcome := BindingDenied
	if bound {
		outcome = BindingNew
	}

	v.logger.InfoContext(ctx, "device binding checked",
		slog.String("license_key", store.MaskKey(rec.LicenseKey)),
		slog.String("fingerprint", fingerprint),
		slog.Int("bound_devices", len(rec.BoundDevices)),
		slog.Int("max_devices", rec.MaxDevices),
		slog.String("outcome", outcome.String()),
	)
	return outcome, nil
}
