package license

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRef = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func TestKeySigner_GenerateIsWellFormed(t *testing.T) {
	signer := NewKeySigner("unit-test-secret")

	cases := []struct {
		email    string
		tier     string
		duration Duration
	}{
		{"a@x.com", TierTrial, Duration3Days},
		{"buyer@example.com", TierStandard, Duration1Month},
		{"corp@example.com", TierEnterprise, Duration1Year},
		{"forever@example.com", TierLifetime, DurationNone},
	}

	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			key, _ := signer.Generate(tc.email, tc.tier, tc.duration, testRef)

			assert.True(t, IsWellFormed(key), "generated key %q must be well formed", key)
			assert.Len(t, key, 12, "prefix plus two dashed hex quads")
			assert.Len(t, key, KeyLength)
			assert.Equal(t, 2, strings.Count(key, "-"))
			assert.True(t, strings.HasPrefix(key, KeyPrefix+"-"))
		})
	}
}

func TestKeySigner_Deterministic(t *testing.T) {
	signer := NewKeySigner("unit-test-secret")

	key1, exp1 := signer.Generate("a@x.com", TierStandard, Duration1Month, testRef)
	key2, exp2 := signer.Generate("a@x.com", TierStandard, Duration1Month, testRef)

	assert.Equal(t, key1, key2, "same inputs at the same reference time yield the same key")
	assert.Equal(t, exp1, exp2)
}

func TestKeySigner_InputsChangeKey(t *testing.T) {
	signer := NewKeySigner("unit-test-secret")

	base, _ := signer.Generate("a@x.com", TierStandard, Duration1Month, testRef)
	otherEmail, _ := signer.Generate("b@x.com", TierStandard, Duration1Month, testRef)
	otherTier, _ := signer.Generate("a@x.com", TierEnterprise, Duration1Month, testRef)
	otherSecret, _ := NewKeySigner("different-secret").Generate("a@x.com", TierStandard, Duration1Month, testRef)

	assert.NotEqual(t, base, otherEmail)
	assert.NotEqual(t, base, otherTier)
	assert.NotEqual(t, base, otherSecret)
}

func TestKeySigner_EmailNormalized(t *testing.T) {
	signer := NewKeySigner("unit-test-secret")

	lower, _ := signer.Generate("a@x.com", TierStandard, Duration1Month, testRef)
	mixed, _ := signer.Generate("  A@X.COM ", TierStandard, Duration1Month, testRef)

	assert.Equal(t, lower, mixed)
}

func TestKeySigner_Expiry(t *testing.T) {
	signer := NewKeySigner("unit-test-secret")

	_, exp := signer.Generate("a@x.com", TierTrial, Duration3Days, testRef)
	require.NotNil(t, exp)
	assert.Equal(t, testRef.AddDate(0, 0, 3), *exp)

	_, exp = signer.Generate("a@x.com", TierLifetime, DurationNone, testRef)
	assert.Nil(t, exp, "none duration must not expire")
}

func TestIsWellFormed(t *testing.T) {
	cases := []struct {
		name string
		key  string
		want bool
	}{
		{"valid", "CS-AAAA-1111", true},
		{"valid all hex", "CS-09AF-F90A", true},
		{"lowercase hex", "CS-aaaa-1111", false},
		{"wrong prefix", "XX-AAAA-1111", false},
		{"missing dash", "CSAAAA-1111", false},
		{"extra dash", "CS-AA-AA-1111", false},
		{"too short", "CS-AAA-1111", false},
		{"too long", "CS-AAAAA-1111", false},
		{"non hex", "CS-GGGG-1111", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsWellFormed(tc.key))
		})
	}
}

func TestParse(t *testing.T) {
	parsed, ok := Parse("CS-AAAA-1111")
	require.True(t, ok)
	assert.Equal(t, ParsedKey{Prefix: "CS", GroupA: "AAAA", GroupB: "1111"}, parsed)

	_, ok = Parse("not-a-key")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "CS-AAAA-1111", Normalize("  cs-aaaa-1111 "))
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration(" 3D ")
	require.NoError(t, err)
	assert.Equal(t, Duration3Days, d)

	_, err = ParseDuration("2w")
	assert.Error(t, err)
}
