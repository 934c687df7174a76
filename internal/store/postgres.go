package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	apperrors "coursesmith/internal/errors"
)

// PostgresStore persists license records in a Postgres table. Used by
// vendor-side deployments that own the database directly instead of
// going through a REST gateway.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore opens a connection pool against the DSN.
func NewPostgresStore(dsn string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{
		db:     db,
		logger: logger.With(slog.String("component", "postgres_store")),
	}, nil
}

const licenseColumns = `license_key, email, tier, valid_until, is_banned, bound_devices, max_devices, created_at`

// Lookup fetches a record by license key.
func (s *PostgresStore) Lookup(ctx context.Context, licenseKey string) (*LicenseRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1`, licenseKey)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrRecordNotFound
	}
	if err != nil {
		return nil, s.wrap(ctx, "lookup", err)
	}
	return rec, nil
}

// UpdateBoundDevices replaces the device set wholesale.
func (s *PostgresStore) UpdateBoundDevices(ctx context.Context, licenseKey string, devices []string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET bound_devices = $2 WHERE license_key = $1`,
		licenseKey, pq.Array(devices))
	if err != nil {
		return s.wrap(ctx, "update_bound_devices", err)
	}
	return requireRow(res)
}

// BindDevice appends the fingerprint in a single conditional UPDATE so
// two concurrent activations cannot overshoot max_devices.
func (s *PostgresStore) BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses
		   SET bound_devices = array_append(bound_devices, $2)
		 WHERE license_key = $1
		   AND NOT ($2 = ANY(bound_devices))
		   AND cardinality(bound_devices) < max_devices`,
		licenseKey, fingerprint)
	if err != nil {
		return false, s.wrap(ctx, "bind_device", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap(ctx, "bind_device", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Nothing updated: either already bound (fine), at the limit, or
	// the key does not exist.
	rec, err := s.Lookup(ctx, licenseKey)
	if err != nil {
		return false, err
	}
	return rec.HasDevice(fingerprint), nil
}

// Insert creates a new license row.
func (s *PostgresStore) Insert(ctx context.Context, rec *LicenseRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO licenses (`+licenseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.LicenseKey, rec.Email, rec.Tier, rec.ValidUntil, rec.IsBanned,
		pq.Array(rec.BoundDevices), rec.MaxDevices, rec.CreatedAt)
	if err != nil {
		return s.wrap(ctx, "insert", err)
	}
	return nil
}

// SetBanned flips the ban flag.
func (s *PostgresStore) SetBanned(ctx context.Context, licenseKey string, banned bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET is_banned = $2 WHERE license_key = $1`, licenseKey, banned)
	if err != nil {
		return s.wrap(ctx, "set_banned", err)
	}
	return requireRow(res)
}

// Extend moves the expiration forward.
func (s *PostgresStore) Extend(ctx context.Context, licenseKey string, validUntil time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET valid_until = $2 WHERE license_key = $1`, licenseKey, validUntil)
	if err != nil {
		return s.wrap(ctx, "extend", err)
	}
	return requireRow(res)
}

// List returns every license row, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]LicenseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses ORDER BY created_at DESC`)
	if err != nil {
		return nil, s.wrap(ctx, "list", err)
	}
	defer rows.Close()

	var records []LicenseRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, s.wrap(ctx, "list", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(ctx, "list", err)
	}
	return records, nil
}

// Ping checks database reachability.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnreachable, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// wrap maps driver errors to the unreachable sentinel and logs once at
// the store boundary.
func (s *PostgresStore) wrap(ctx context.Context, op string, err error) error {
	s.logger.WarnContext(ctx, "postgres operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %v", apperrors.ErrStoreUnreachable, op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*LicenseRecord, error) {
	var rec LicenseRecord
	var validUntil sql.NullTime
	var devices pq.StringArray

	err := row.Scan(&rec.LicenseKey, &rec.Email, &rec.Tier, &validUntil,
		&rec.IsBanned, &devices, &rec.MaxDevices, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	if validUntil.Valid {
		t := validUntil.Time
		rec.ValidUntil = &t
	}
	rec.BoundDevices = []string(devices)
	return &rec, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}
