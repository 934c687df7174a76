package license

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursesmith/internal/clock"
	"coursesmith/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFP pins the machine fingerprint for a test.
type fakeFP struct{ id string }

func (f *fakeFP) CurrentFingerprint() string { return f.id }

type fixture struct {
	manager *Manager
	primary *store.MemoryStore
	fp      *fakeFP
	cache   *SessionCache
}

func newFixture(t *testing.T, clk clock.Clock) *fixture {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()

	primary := store.NewMemoryStore()
	mirror := store.NewFileStore(filepath.Join(dir, "licenses.json"), logger)
	failover := store.NewFailover(primary, mirror, logger)

	fp := &fakeFP{id: "F1"}
	cache := NewSessionCache(filepath.Join(dir, "session.dat"), "unit-test-salt", fp, logger)

	return &fixture{
		manager: NewManager(failover, clk, fp, cache, logger, nil),
		primary: primary,
		fp:      fp,
		cache:   cache,
	}
}

func fixedClock(t time.Time) clock.Clock { return clock.Fixed{T: t} }

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func enterpriseRecord(key string) *store.LicenseRecord {
	until := testNow.AddDate(1, 0, 0)
	return &store.LicenseRecord{
		LicenseKey:   key,
		Email:        "a@x.com",
		Tier:         TierEnterprise,
		ValidUntil:   &until,
		BoundDevices: []string{},
		MaxDevices:   1,
		CreatedAt:    testNow.AddDate(0, -1, 0),
	}
}

func TestValidate_DeviceBindingScenario(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))

	// First machine binds the single slot.
	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	require.True(t, result.Valid, "first device must be allowed: %s", result.Message)
	assert.Equal(t, TierEnterprise, result.Tier)
	assert.NotEmpty(t, result.Token)

	rec, err := fx.primary.Lookup(ctx, "CS-AAAA-1111")
	require.NoError(t, err)
	assert.Equal(t, []string{"F1"}, rec.BoundDevices)

	// A second machine is over the limit.
	fx.fp.id = "F2"
	result = fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonDeviceLimitReached, result.Reason)

	rec, err = fx.primary.Lookup(ctx, "CS-AAAA-1111")
	require.NoError(t, err)
	assert.Equal(t, []string{"F1"}, rec.BoundDevices, "denied attempt must not mutate the record")

	// The bound machine keeps working, without growing the set.
	fx.fp.id = "F1"
	result = fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.True(t, result.Valid)

	rec, err = fx.primary.Lookup(ctx, "CS-AAAA-1111")
	require.NoError(t, err)
	assert.Len(t, rec.BoundDevices, 1)
}

func TestValidate_InvalidFormat(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))

	for _, key := range []string{"", "garbage", "CS-aaaa-1111x", "XX-AAAA-1111"} {
		result := fx.manager.Validate(context.Background(), "a@x.com", key)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonInvalidFormat, result.Reason, "key %q", key)
	}
}

func TestValidate_KeyNormalizedBeforeChecks(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))

	result := fx.manager.Validate(ctx, "a@x.com", "  cs-aaaa-1111 ")
	assert.True(t, result.Valid, "user-entered keys are uppercased and trimmed")
}

func TestValidate_NotFound(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))

	result := fx.manager.Validate(context.Background(), "a@x.com", "CS-0000-0000")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestValidate_EmailMismatch(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))

	result := fx.manager.Validate(ctx, "someone-else@x.com", "CS-AAAA-1111")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonEmailMismatch, result.Reason)

	// Case and surrounding whitespace do not count as a mismatch.
	result = fx.manager.Validate(ctx, "  A@X.COM ", "CS-AAAA-1111")
	assert.True(t, result.Valid)
}

func TestValidate_BannedAlwaysRevoked(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	// Banned and expired and over the device limit: the ban reports first.
	past := testNow.AddDate(0, -2, 0)
	rec := enterpriseRecord("CS-AAAA-1111")
	rec.IsBanned = true
	rec.ValidUntil = &past
	rec.BoundDevices = []string{"F9"}
	require.NoError(t, fx.primary.Insert(ctx, rec))

	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonRevoked, result.Reason)
}

func TestValidate_ExpiredByNetworkTime(t *testing.T) {
	// The trusted clock sits after valid_until even though the local
	// clock (which the engine never consults here) would say otherwise.
	trustedNow := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, fixedClock(trustedNow))
	ctx := context.Background()

	rec := enterpriseRecord("CS-AAAA-1111")
	until := trustedNow.AddDate(0, -1, 0)
	rec.ValidUntil = &until
	require.NoError(t, fx.primary.Insert(ctx, rec))

	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonExpired, result.Reason)
}

func TestValidate_NilExpirySkipsClock(t *testing.T) {
	fx := newFixture(t, fixedClock(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	rec := enterpriseRecord("CS-AAAA-1111")
	rec.Tier = TierLifetime
	rec.ValidUntil = nil
	require.NoError(t, fx.primary.Insert(ctx, rec))

	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.True(t, result.Valid, "perpetual licenses never expire")
	assert.Nil(t, result.ExpiresAt)
}

func TestValidate_BindingSkippedForLowTiers(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	rec := enterpriseRecord("CS-AAAA-1111")
	rec.Tier = TierStandard
	rec.BoundDevices = []string{"OTHER-1", "OTHER-2", "OTHER-3"}
	rec.MaxDevices = 3
	require.NoError(t, fx.primary.Insert(ctx, rec))

	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.True(t, result.Valid, "standard tier does not enforce device binding")

	after, err := fx.primary.Lookup(ctx, "CS-AAAA-1111")
	require.NoError(t, err)
	assert.Len(t, after.BoundDevices, 3, "skipped binding must not mutate the record")
}

func TestValidate_OfflineFromMirror(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))

	// Seed the mirror with a successful online validation, then drop
	// the primary.
	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	require.True(t, result.Valid)
	fx.primary.Unreachable = true

	result = fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.True(t, result.Valid)
	assert.True(t, result.Offline)
	assert.Contains(t, result.Message, "offline mode")
}

func TestValidate_OutageWithoutMirror(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	fx.primary.Unreachable = true

	result := fx.manager.Validate(context.Background(), "a@x.com", "CS-AAAA-1111")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonStoreUnreachable, result.Reason)
}

func TestValidate_FirstFailureOnlyOrdering(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	// Wrong email on a banned, expired record: email reports first.
	past := testNow.AddDate(0, -1, 0)
	rec := enterpriseRecord("CS-AAAA-1111")
	rec.IsBanned = true
	rec.ValidUntil = &past
	require.NoError(t, fx.primary.Insert(ctx, rec))

	result := fx.manager.Validate(ctx, "wrong@x.com", "CS-AAAA-1111")
	assert.Equal(t, ReasonEmailMismatch, result.Reason)
}

func TestSession_LifecycleAndLogout(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	assert.Nil(t, fx.manager.CurrentSession())

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))
	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	require.True(t, result.Valid)

	session := fx.manager.CurrentSession()
	require.NotNil(t, session)
	assert.Equal(t, result.Token, session.Token)
	assert.Equal(t, "a@x.com", session.Email)

	fx.manager.Logout()
	assert.Nil(t, fx.manager.CurrentSession())
}

func TestSession_ClearedOnFailedRevalidation(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))
	require.True(t, fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111").Valid)
	require.NotNil(t, fx.manager.CurrentSession())

	require.NoError(t, fx.primary.SetBanned(ctx, "CS-AAAA-1111", true))
	result := fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111")
	assert.False(t, result.Valid)
	assert.Nil(t, fx.manager.CurrentSession(), "failed re-validation clears the session")
}

func TestRestoreSession_RoundTrip(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))
	require.True(t, fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111").Valid)
	require.NoError(t, fx.manager.RememberSession())

	// A fresh process run on the same machine.
	result, restored := fx.manager.RestoreSession(ctx)
	require.True(t, restored)
	assert.True(t, result.Valid)

	session := fx.manager.CurrentSession()
	require.NotNil(t, session)
	assert.Equal(t, "a@x.com", session.Email)
	assert.Equal(t, TierEnterprise, session.Tier)
	assert.Equal(t, "CS-AAAA-1111", session.LicenseKey)
}

func TestRestoreSession_HardwareChangeDeletesBlob(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))
	require.True(t, fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111").Valid)
	require.NoError(t, fx.manager.RememberSession())

	// The machine's fingerprint changes: the blob no longer decrypts
	// and must be discarded.
	fx.fp.id = "DIFFERENT-MACHINE"
	_, restored := fx.manager.RestoreSession(ctx)
	assert.False(t, restored)

	// Back on the original hardware the blob is gone for good.
	fx.fp.id = "F1"
	_, restored = fx.manager.RestoreSession(ctx)
	assert.False(t, restored)
}

func TestRestoreSession_RevalidationFailureClearsBlob(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, fx.primary.Insert(ctx, enterpriseRecord("CS-AAAA-1111")))
	require.True(t, fx.manager.Validate(ctx, "a@x.com", "CS-AAAA-1111").Valid)
	require.NoError(t, fx.manager.RememberSession())

	// The license is revoked between runs; the cached blob must not
	// resurrect it.
	require.NoError(t, fx.primary.SetBanned(ctx, "CS-AAAA-1111", true))

	result, restored := fx.manager.RestoreSession(ctx)
	assert.False(t, restored)
	assert.Equal(t, ReasonRevoked, result.Reason)

	_, restored = fx.manager.RestoreSession(ctx)
	assert.False(t, restored, "blob is cleared after the failed restore")
}

func TestRememberSession_WithoutSession(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	assert.Error(t, fx.manager.RememberSession())
}

func TestValidate_ConcurrentBindingRespectsLimit(t *testing.T) {
	fx := newFixture(t, fixedClock(testNow))
	ctx := context.Background()

	rec := enterpriseRecord("CS-AAAA-1111")
	rec.MaxDevices = 3
	require.NoError(t, fx.primary.Insert(ctx, rec))

	// Ten distinct machines race for three slots.
	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			dir := t.TempDir()
			logger := testLogger()
			mirror := store.NewFileStore(filepath.Join(dir, "licenses.json"), logger)
			failover := store.NewFailover(fx.primary, mirror, logger)
			fp := &fakeFP{id: string(rune('A' + i))}
			cache := NewSessionCache(filepath.Join(dir, "session.dat"), "unit-test-salt", fp, logger)
			m := NewManager(failover, fixedClock(testNow), fp, cache, logger, nil)

			results <- m.Validate(ctx, "a@x.com", "CS-AAAA-1111").Valid
		}(i)
	}

	allowed := 0
	for i := 0; i < 10; i++ {
		if <-results {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed, "exactly max_devices bindings may succeed")

	after, err := fx.primary.Lookup(ctx, "CS-AAAA-1111")
	require.NoError(t, err)
	assert.Len(t, after.BoundDevices, 3)
}
