package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the entitlement engine's OpenTelemetry instruments.
type Metrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	DeviceBindings     metric.Int64Counter
	OfflineValidations metric.Int64Counter
	SessionRestores    metric.Int64Counter
}

// InitializeMetrics creates the engine's instruments on the meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationSuccess, err = meter.Int64Counter(
		"license_validation_success_total",
		metric.WithDescription("Total number of successful license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation success counter: %w", err)
	}

	m.ValidationFailures, err = meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of failed license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.DeviceBindings, err = meter.Int64Counter(
		"license_device_bindings_total",
		metric.WithDescription("Total number of new device bindings"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device bindings counter: %w", err)
	}

	m.OfflineValidations, err = meter.Int64Counter(
		"license_offline_validations_total",
		metric.WithDescription("Total number of validations answered by the local mirror"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create offline validations counter: %w", err)
	}

	m.SessionRestores, err = meter.Int64Counter(
		"license_session_restores_total",
		metric.WithDescription("Total number of sessions restored from the encrypted cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session restores counter: %w", err)
	}

	return m, nil
}

// recordValidation records one validation attempt and its outcome.
func (m *Metrics) recordValidation(ctx context.Context, start time.Time, result Result) {
	if m == nil {
		return
	}

	m.ValidationAttempts.Add(ctx, 1)
	m.ValidationDuration.Record(ctx, time.Since(start).Seconds())

	if result.Valid {
		m.ValidationSuccess.Add(ctx, 1,
			metric.WithAttributes(attribute.String("tier", result.Tier)))
		if result.Offline {
			m.OfflineValidations.Add(ctx, 1)
		}
		return
	}
	m.ValidationFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", string(result.Reason))))
}
