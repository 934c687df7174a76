package security

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	fm := NewFingerprintManager()

	first := fm.CurrentFingerprint()
	second := fm.CurrentFingerprint()

	assert.Equal(t, first, second, "fingerprint must be stable within a run")
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{32}$`), first,
		"fingerprint must be 32 uppercase hex chars")
}

func TestFingerprint_FallbackWhenProbesFail(t *testing.T) {
	fm := NewFingerprintManager().WithMachineID(func() (string, error) {
		return "", errors.New("no probe available")
	})

	fp := fm.Generate()
	require.NotEmpty(t, fp.Fingerprint)
	assert.True(t, fp.Fallback)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{32}$`), fp.Fingerprint)
}

func TestFingerprint_DifferentMachineIDsDiffer(t *testing.T) {
	fm1 := NewFingerprintManager().WithMachineID(func() (string, error) {
		return "machine-a", nil
	})
	fm2 := NewFingerprintManager().WithMachineID(func() (string, error) {
		return "machine-b", nil
	})

	assert.NotEqual(t, fm1.CurrentFingerprint(), fm2.CurrentFingerprint())
}

func TestFingerprint_ClearCacheRegenerates(t *testing.T) {
	calls := 0
	fm := NewFingerprintManager().WithMachineID(func() (string, error) {
		calls++
		return "machine-a", nil
	})

	fm.CurrentFingerprint()
	fm.CurrentFingerprint()
	assert.Equal(t, 1, calls, "second call should use the cache")

	fm.ClearCache()
	fm.CurrentFingerprint()
	assert.Equal(t, 2, calls)
}

func TestFingerprint_Validate(t *testing.T) {
	fm := NewFingerprintManager().WithMachineID(func() (string, error) {
		return "machine-a", nil
	})

	current := fm.CurrentFingerprint()
	assert.True(t, fm.ValidateFingerprint(current))
	assert.False(t, fm.ValidateFingerprint("DEADBEEFDEADBEEFDEADBEEFDEADBEEF"))
}

func TestVault_RoundTrip(t *testing.T) {
	v := NewVault("A1B2C3D4E5F6A7B8A1B2C3D4E5F6A7B8", "unit-test-salt")

	plaintext := []byte(`{"email":"user@example.com","key":"CS-AAAA-1111"}`)
	blob, err := v.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, blob)

	got, err := v.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestVault_WrongFingerprintFails(t *testing.T) {
	v1 := NewVault("FINGERPRINT-ONE", "unit-test-salt")
	v2 := NewVault("FINGERPRINT-TWO", "unit-test-salt")

	blob, err := v1.Encrypt([]byte("bound to machine one"))
	require.NoError(t, err)

	_, err = v2.Decrypt(blob)
	assert.ErrorIs(t, err, ErrTampered)
}

func TestVault_CorruptBlobFails(t *testing.T) {
	v := NewVault("FINGERPRINT-ONE", "unit-test-salt")

	blob, err := v.Encrypt([]byte("payload"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xFF
	_, err = v.Decrypt(blob)
	assert.ErrorIs(t, err, ErrTampered)

	_, err = v.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrTampered)
}

func TestVault_NonceVariesPerEncryption(t *testing.T) {
	v := NewVault("FINGERPRINT-ONE", "unit-test-salt")

	a, err := v.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "fresh nonce per encryption")
}

func TestCredentials_RoundTrip(t *testing.T) {
	passphrase := []byte("a-passphrase-of-adequate-length")
	secret := []byte(`{"api_key":"sk-test","url":"https://store.example.com"}`)

	payload, err := EncryptCredentials(secret, passphrase)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), payload.Version)
	assert.Len(t, payload.Salt, 32)

	got, err := DecryptCredentials(payload, passphrase)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestCredentials_WrongPassphrase(t *testing.T) {
	payload, err := EncryptCredentials([]byte("secret"), []byte("correct-passphrase-16+"))
	require.NoError(t, err)

	_, err = DecryptCredentials(payload, []byte("incorrect-passphrase!"))
	assert.ErrorIs(t, err, ErrTampered)
}

func TestCredentials_RejectsShortPassphrase(t *testing.T) {
	_, err := EncryptCredentials([]byte("secret"), []byte("short"))
	assert.Error(t, err)
}
