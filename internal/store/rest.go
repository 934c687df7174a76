package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"coursesmith/internal/config"
	apperrors "coursesmith/internal/errors"
)

// RESTStore talks to a PostgREST-compatible endpoint (Supabase). The
// license table is exposed at {base}/rest/v1/{table}; device binding
// goes through a server-side RPC so the append stays atomic under
// concurrent activations.
type RESTStore struct {
	client  *retryablehttp.Client
	baseURL string
	apiKey  string
	table   string
	logger  *slog.Logger
}

// restRecord is the wire shape of a license row.
type restRecord struct {
	LicenseKey   string     `json:"license_key"`
	Email        string     `json:"email"`
	Tier         string     `json:"tier"`
	ValidUntil   *time.Time `json:"valid_until"`
	IsBanned     bool       `json:"is_banned"`
	BoundDevices []string   `json:"bound_devices"`
	MaxDevices   int        `json:"max_devices"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewRESTStore builds a store client from config. Transient failures
// are retried with backoff before being reported as unreachable.
func NewRESTStore(cfg config.StoreConfig, logger *slog.Logger) *RESTStore {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 4 * time.Second
	client.HTTPClient.Timeout = cfg.RESTTimeout
	client.Logger = nil

	return &RESTStore{
		client:  client,
		baseURL: cfg.RESTBaseURL,
		apiKey:  cfg.RESTAPIKey,
		table:   cfg.RESTTable,
		logger:  logger.With(slog.String("component", "rest_store")),
	}
}

// Lookup fetches a record by license key.
func (s *RESTStore) Lookup(ctx context.Context, licenseKey string) (*LicenseRecord, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?license_key=eq.%s&limit=1",
		s.baseURL, s.table, url.QueryEscape(licenseKey))

	var rows []restRecord
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrRecordNotFound
	}
	return rows[0].toRecord(), nil
}

// UpdateBoundDevices replaces the record's device set.
func (s *RESTStore) UpdateBoundDevices(ctx context.Context, licenseKey string, devices []string) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?license_key=eq.%s",
		s.baseURL, s.table, url.QueryEscape(licenseKey))

	body := map[string]any{"bound_devices": devices}
	return s.do(ctx, http.MethodPatch, endpoint, body, nil)
}

// BindDevice calls the bind_device RPC, which appends the fingerprint
// only when the record has room. Returns false when at the limit.
func (s *RESTStore) BindDevice(ctx context.Context, licenseKey, fingerprint string) (bool, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/rpc/bind_device", s.baseURL)

	body := map[string]any{
		"p_license_key": licenseKey,
		"p_fingerprint": fingerprint,
	}
	var bound bool
	if err := s.do(ctx, http.MethodPost, endpoint, body, &bound); err != nil {
		return false, err
	}

	s.logger.DebugContext(ctx, "device bind attempted",
		slog.String("license_key", MaskKey(licenseKey)),
		slog.Bool("bound", bound),
	)
	return bound, nil
}

// Insert creates a new license row.
func (s *RESTStore) Insert(ctx context.Context, rec *LicenseRecord) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", s.baseURL, s.table)
	return s.do(ctx, http.MethodPost, endpoint, fromRecord(rec), nil)
}

// SetBanned flips the ban flag on a row.
func (s *RESTStore) SetBanned(ctx context.Context, licenseKey string, banned bool) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?license_key=eq.%s",
		s.baseURL, s.table, url.QueryEscape(licenseKey))
	return s.do(ctx, http.MethodPatch, endpoint, map[string]any{"is_banned": banned}, nil)
}

// Extend moves the expiration forward.
func (s *RESTStore) Extend(ctx context.Context, licenseKey string, validUntil time.Time) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?license_key=eq.%s",
		s.baseURL, s.table, url.QueryEscape(licenseKey))
	return s.do(ctx, http.MethodPatch, endpoint, map[string]any{"valid_until": validUntil}, nil)
}

// List returns all rows.
func (s *RESTStore) List(ctx context.Context) ([]LicenseRecord, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?order=created_at.desc", s.baseURL, s.table)

	var rows []restRecord
	if err := s.do(ctx, http.MethodGet, endpoint, nil, &rows); err != nil {
		return nil, err
	}

	records := make([]LicenseRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *rows[i].toRecord())
	}
	return records, nil
}

// Ping checks reachability with a cheap HEAD-style query.
func (s *RESTStore) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?limit=0", s.baseURL, s.table)
	return s.do(ctx, http.MethodGet, endpoint, nil, nil)
}

// do executes one request, mapping transport failures to
// ErrStoreUnreachable and decoding the response into out when non-nil.
func (s *RESTStore) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WarnContext(ctx, "store request failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.ErrRecordNotFound
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: store returned %d", apperrors.ErrStoreUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("store rejected request: %d %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode store response: %w", err)
		}
	}
	return nil
}

func (r *restRecord) toRecord() *LicenseRecord {
	return &LicenseRecord{
		LicenseKey:   r.LicenseKey,
		Email:        r.Email,
		Tier:         r.Tier,
		ValidUntil:   r.ValidUntil,
		IsBanned:     r.IsBanned,
		BoundDevices: r.BoundDevices,
		MaxDevices:   r.MaxDevices,
		CreatedAt:    r.CreatedAt,
	}
}

func fromRecord(rec *LicenseRecord) *restRecord {
	return &restRecord{
		LicenseKey:   rec.LicenseKey,
		Email:        rec.Email,
		Tier:         rec.Tier,
		ValidUntil:   rec.ValidUntil,
		IsBanned:     rec.IsBanned,
		BoundDevices: rec.BoundDevices,
		MaxDevices:   rec.MaxDevices,
		CreatedAt:    rec.CreatedAt,
	}
}
