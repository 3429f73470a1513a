package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier(t *testing.T, secret, issuer string) (*Verifier, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{Auth: config.AuthConfig{JWTSecret: secret, JWTIssuer: issuer}}
	return NewVerifier(cfg, clk), clk
}

func TestVerifyRoundTrip(t *testing.T) {
	v, _ := newVerifier(t, "s3cret", "loyaltyrail")

	raw, err := v.Issue("frontend", "1234", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "frontend", claims.Subject)
	assert.Equal(t, "1234", claims.MerchantID)
}

func TestVerifyRejects(t *testing.T) {
	v, clk := newVerifier(t, "s3cret", "loyaltyrail")
	valid, err := v.Issue("frontend", "", time.Minute)
	require.NoError(t, err)

	other, _ := newVerifier(t, "another", "loyaltyrail")
	forged, err := other.Issue("frontend", "", time.Minute)
	require.NoError(t, err)

	foreign, _ := newVerifier(t, "s3cret", "someone-else")
	wrongIssuer, err := foreign.Issue("frontend", "", time.Minute)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	for name, raw := range map[string]string{
		"garbage":  "not-a-jwt",
		"forged":   forged,
		"issuer":   wrongIssuer,
		"alg none": none,
	} {
		_, err := v.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	clk.Advance(2 * time.Minute)
	_, err = v.Verify(valid)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")
}

func TestVerifyRequiresSecret(t *testing.T) {
	v, _ := newVerifier(t, "", "")
	_, err := v.Verify("x.y.z")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBearerToken(t *testing.T) {
	got, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", got)

	got, err = BearerToken("bearer   abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	for _, header := range []string{"", "Basic abc", "Bearer", "Bearer   "} {
		_, err := BearerToken(header)
		assert.ErrorIs(t, err, ErrMissingToken, header)
	}
}
