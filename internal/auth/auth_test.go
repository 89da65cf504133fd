package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	broker := NewBroker("test-secret", time.Hour)

	signed, expiresAt, err := broker.Issue("user-1", "A1234", true, true)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := broker.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "A1234", claims.TenantID)
	assert.True(t, claims.IsSuperuser)
}

func TestJWTWrongSecret(t *testing.T) {
	broker := NewBroker("secret-a", time.Hour)
	other := NewBroker("secret-b", time.Hour)

	signed, _, err := broker.Issue("user-1", "A1234", false, true)
	require.NoError(t, err)

	_, err = other.Validate(signed)
	assert.Error(t, err)
}

func TestJWTExpired(t *testing.T) {
	// NewBroker replaces a non-positive expiry with the 24h default, so the
	// negative expiry is set on the broker directly.
	broker := NewBroker("test-secret", time.Hour)
	broker.expiry = -time.Minute

	signed, _, err := broker.Issue("user-1", "A1234", false, true)
	require.NoError(t, err)

	_, err = broker.Validate(signed)
	assert.Error(t, err)
}

func TestJWTInactiveUser(t *testing.T) {
	broker := NewBroker("test-secret", time.Hour)

	signed, _, err := broker.Issue("user-1", "A1234", false, false)
	require.NoError(t, err)

	_, err = broker.Validate(signed)
	assert.Error(t, err)
}

func TestParseTerminalID(t *testing.T) {
	parsed, err := ParseTerminalID("A1234-store001-001")
	require.NoError(t, err)
	assert.Equal(t, "A1234", parsed.TenantID)
	assert.Equal(t, "store001", parsed.StoreCode)
	assert.Equal(t, 1, parsed.TerminalNo)
	assert.Equal(t, "A1234-store001-001", parsed.String())

	for _, bad := range []string{"", "A1234", "a1234-store001-001", "A1234-store001-1", "A1234-store001-0001", "A12345-store001-001"} {
		if _, err := ParseTerminalID(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestAPIKeyVerification(t *testing.T) {
	key, err := NewAPIKey()
	require.NoError(t, err)
	require.Len(t, key, 64)

	hash := HashAPIKey(key)
	assert.NotEqual(t, key, hash)
	assert.True(t, VerifyAPIKey(key, hash))
	assert.False(t, VerifyAPIKey(key+"x", hash))
	assert.False(t, VerifyAPIKey("", hash))

	second, err := NewAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, second)
}
