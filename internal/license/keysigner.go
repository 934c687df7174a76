// Package license implements the entitlement engine: key derivation,
// tier policy, device binding, session handling and the validation
// facade the application calls.
package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// KeyPrefix is the literal prefix of every issued license key.
const KeyPrefix = "CS"

// KeyLength is the fixed total key length: prefix + "-HHHH-HHHH".
const KeyLength = len(KeyPrefix) + len("-HHHH-HHHH")

// Duration is the issuance duration enum.
type Duration string

const (
	DurationNone    Duration = "none" // no expiration
	Duration3Days   Duration = "3d"
	Duration1Month  Duration = "1m"
	Duration3Months Duration = "3m"
	Duration6Months Duration = "6m"
	Duration1Year   Duration = "1y"
)

// Durations lists every valid issuance duration.
func Durations() []Duration {
	return []Duration{DurationNone, Duration3Days, Duration1Month, Duration3Months, Duration6Months, Duration1Year}
}

// ParseDuration validates a duration string from config or CLI input.
func ParseDuration(s string) (Duration, error) {
	d := Duration(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Durations() {
		if d == valid {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown duration %q (want one of none, 3d, 1m, 3m, 6m, 1y)", s)
}

// ExpiryFrom computes the expiration for this duration relative to ref.
// DurationNone yields nil: no expiration.
func (d Duration) ExpiryFrom(ref time.Time) *time.Time {
	var t time.Time
	switch d {
	case Duration3Days:
		t = ref.AddDate(0, 0, 3)
	case Duration1Month:
		t = ref.AddDate(0, 1, 0)
	case Duration3Months:
		t = ref.AddDate(0, 3, 0)
	case Duration6Months:
		t = ref.AddDate(0, 6, 0)
	case Duration1Year:
		t = ref.AddDate(1, 0, 0)
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

// KeySigner derives license keys from issuance parameters and the
// shared signing secret.
//
// Derivation is deterministic: the same (email, tier, duration,
// expiry) always yields the same key, so reissuing a purchase is
// idempotent. Buyers of two identical licenses in the same expiry
// bucket receive colliding keys; issuers needing per-purchase
// uniqueness must vary an input.
type KeySigner struct {
	secret []byte
}

// NewKeySigner creates a signer around the shared secret.
func NewKeySigner(secret string) *KeySigner {
	return &KeySigner{secret: []byte(secret)}
}

// Generate derives the key for the issuance parameters, with the
// expiration computed from ref. The returned expiry is nil for
// DurationNone.
func (s *KeySigner) Generate(email, tier string, duration Duration, ref time.Time) (string, *time.Time) {
	expiresAt := duration.ExpiryFrom(ref)

	expiryField := "never"
	if expiresAt != nil {
		expiryField = expiresAt.Format("2006-01-02")
	}

	payload := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(email)),
		tier,
		string(duration),
		expiryField,
	}, "|")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	digest := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))

	key := fmt.Sprintf("%s-%s-%s", KeyPrefix, digest[:4], digest[4:8])
	return key, expiresAt
}

// ParsedKey is the structural decomposition of a well-formed key.
type ParsedKey struct {
	Prefix string
	GroupA string
	GroupB string
}

// Parse splits a key into its fields, returning false for any key that
// is not well formed.
func Parse(key string) (ParsedKey, bool) {
	if !IsWellFormed(key) {
		return ParsedKey{}, false
	}
	parts := strings.Split(key, "-")
	return ParsedKey{Prefix: parts[0], GroupA: parts[1], GroupB: parts[2]}, true
}

// IsWellFormed checks key shape only: prefix, exactly two dashes, two
// uppercase-hex quads, fixed total length. It does not verify the
// signature; the store record, not key math, is authoritative at
// validation time.
func IsWellFormed(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	if strings.Count(key, "-") != 2 {
		return false
	}
	parts := strings.Split(key, "-")
	if len(parts) != 3 || parts[0] != KeyPrefix {
		return false
	}
	return isHexQuad(parts[1]) && isHexQuad(parts[2])
}

// Normalize uppercases and trims user-entered keys before validation.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func isHexQuad(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
