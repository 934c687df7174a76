package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"coursesmith/internal/config"
	apperrors "coursesmith/internal/errors"
)

// SheetsStore keeps the license table in a Google Sheet. Small vendors
// run their whole back office out of a spreadsheet; this backend lets
// them issue and validate against it directly.
//
// Column layout, one license per row, row 1 is the header:
//
//	A license_key  B email  C tier  D valid_until  E is_banned
//	F bound_devices (comma separated)  G max_devices  H created_at
type SheetsStore struct {
	service   *sheets.Service
	sheetID   string
	sheetName string
	logger    *slog.Logger
}

// NewSheetsStore builds a sheets-backed store using a service account
// credentials file.
func NewSheetsStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*SheetsStore, error) {
	service, err := sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetsStore{
		service:   service,
		sheetID:   cfg.SheetID,
		sheetName: cfg.SheetName,
		logger:    logger.With(slog.String("component", "sheets_store")),
	}, nil
}

// Lookup scans the sheet for the license key.
func (s *SheetsStore) Lookup(ctx context.Context, licenseKey string) (*LicenseRecord, error) {
	rec, _, err := s.findRow(ctx, licenseKey)
	return rec, err
}

// UpdateBoundDevices rewrites the bound_devices cell for the key's row.
func (s *SheetsStore) UpdateBoundDevices(ctx context.Context, licenseKey string, devices []string) error {
	_, rowIdx, err := s.findRow(ctx, licenseKey)
	if err != nil {
		return err
	}

	cell := fmt.Sprintf("%s!F%d", s.sheetName, rowIdx)
	valueRange := &sheets.ValueRange{Values: [][]any{{strings.Join(devices, ",")}}}
	_, err = s.service.Spreadsheets.Values.
		Update(s.sheetID, cell, valueRange).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return s.wrap(ctx, "update_bound_devices", err)
	}
	return nil
}

// BindDevice appends the fingerprint if the row has room. The sheets
// API offers no conditional update, so this is read-modify-write; the
// spreadsheet backend is only suitable for low-volume deployments.
func (s *SheetsStore) BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error) {
	rec, _, err := s.findRow(ctx, licenseKey)
	if err != nil {
		return false, err
	}

	if rec.HasDevice(fingerprint) {
		return true, nil
	}
	if rec.AtDeviceLimit() {
		return false, nil
	}

	devices := append(append([]string(nil), rec.BoundDevices...), fingerprint)
	if err := s.UpdateBoundDevices(ctx, licenseKey, devices); err != nil {
		return false, err
	}
	return true, nil
}

// Insert appends a new row to the sheet.
func (s *SheetsStore) Insert(ctx context.Context, rec *LicenseRecord) error {
	valueRange := &sheets.ValueRange{Values: [][]any{recordToRow(rec)}}
	_, err := s.service.Spreadsheets.Values.
		Append(s.sheetID, s.sheetName, valueRange).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return s.wrap(ctx, "insert", err)
	}
	return nil
}

// SetBanned rewrites the is_banned cell.
func (s *SheetsStore) SetBanned(ctx context.Context, licenseKey string, banned bool) error {
	_, rowIdx, err := s.findRow(ctx, licenseKey)
	if err != nil {
		return err
	}

	cell := fmt.Sprintf("%s!E%d", s.sheetName, rowIdx)
	valueRange := &sheets.ValueRange{Values: [][]any{{strconv.FormatBool(banned)}}}
	_, err = s.service.Spreadsheets.Values.
		Update(s.sheetID, cell, valueRange).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return s.wrap(ctx, "set_banned", err)
	}
	return nil
}

// Extend rewrites the valid_until cell.
func (s *SheetsStore) Extend(ctx context.Context, licenseKey string, validUntil time.Time) error {
	_, rowIdx, err := s.findRow(ctx, licenseKey)
	if err != nil {
		return err
	}

	cell := fmt.Sprintf("%s!D%d", s.sheetName, rowIdx)
	valueRange := &sheets.ValueRange{Values: [][]any{{validUntil.Format(time.RFC3339)}}}
	_, err = s.service.Spreadsheets.Values.
		Update(s.sheetID, cell, valueRange).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return s.wrap(ctx, "extend", err)
	}
	return nil
}

// List returns every license row in the sheet.
func (s *SheetsStore) List(ctx context.Context) ([]LicenseRecord, error) {
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]LicenseRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := rowToRecord(row)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed sheet row",
				slog.Int("row", i+2),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Ping checks the spreadsheet is reachable.
func (s *SheetsStore) Ping(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Get(s.sheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnreachable, err)
	}
	return nil
}

// findRow locates the key's row. The returned index is 1-based as the
// sheets A1 notation expects.
func (s *SheetsStore) findRow(ctx context.Context, licenseKey string) (*LicenseRecord, int, error) {
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, 0, err
	}

	for i, row := range rows {
		if len(row) > 0 && fmt.Sprint(row[0]) == licenseKey {
			rec, err := rowToRecord(row)
			if err != nil {
				return nil, 0, fmt.Errorf("malformed row for %s: %w", MaskKey(licenseKey), err)
			}
			return rec, i + 2, nil // +2: header row plus 1-based indexing
		}
	}
	return nil, 0, apperrors.ErrRecordNotFound
}

// readAll fetches all data rows, excluding the header.
func (s *SheetsStore) readAll(ctx context.Context) ([][]any, error) {
	resp, err := s.service.Spreadsheets.Values.
		Get(s.sheetID, s.sheetName).
		Context(ctx).Do()
	if err != nil {
		return nil, s.wrap(ctx, "read", err)
	}
	if len(resp.Values) <= 1 {
		return nil, nil
	}
	return resp.Values[1:], nil
}

func (s *SheetsStore) wrap(ctx context.Context, op string, err error) error {
	s.logger.WarnContext(ctx, "sheets operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%w: %s: %v", apperrors.ErrStoreUnreachable, op, err)
}

func recordToRow(rec *LicenseRecord) []any {
	validUntil := ""
	if rec.ValidUntil != nil {
		validUntil = rec.ValidUntil.Format(time.RFC3339)
	}
	return []any{
		rec.LicenseKey,
		rec.Email,
		rec.Tier,
		validUntil,
		strconv.FormatBool(rec.IsBanned),
		strings.Join(rec.BoundDevices, ","),
		strconv.Itoa(rec.MaxDevices),
		rec.CreatedAt.Format(time.RFC3339),
	}
}

func rowToRecord(row []any) (*LicenseRecord, error) {
	if len(row) < 8 {
		return nil, fmt.Errorf("expected 8 columns, got %d", len(row))
	}

	cell := func(i int) string { return strings.TrimSpace(fmt.Sprint(row[i])) }

	rec := &LicenseRecord{
		LicenseKey: cell(0),
		Email:      cell(1),
		Tier:       cell(2),
	}

	if v := cell(3); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("bad valid_until %q: %w", v, err)
		}
		rec.ValidUntil = &t
	}

	rec.IsBanned = strings.EqualFold(cell(4), "true")

	if v := cell(5); v != "" {
		rec.BoundDevices = strings.Split(v, ",")
	}

	maxDevices, err := strconv.Atoi(cell(6))
	if err != nil {
		return nil, fmt.Errorf("bad max_devices %q: %w", cell(6), err)
	}
	rec.MaxDevices = maxDevices

	if v := cell(7); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("bad created_at %q: %w", v, err)
		}
		rec.CreatedAt = t
	}

	return rec, nil
}
