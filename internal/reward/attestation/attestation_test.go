package attestation

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWireFormat(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	encoded, err := Encode([]Event{
		NewEvent("purchase", at.Add(time.Minute)),
		NewEvent("referral_arrival", at),
	})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"event":"referral_arrival","timestampInSecond":1772366400},{"event":"purchase","timestampInSecond":1772366460}]`,
		string(raw),
	)
}

func TestEncodeEmpty(t *testing.T) {
	encoded, err := Encode(nil)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestDecodeRoundTrip(t *testing.T) {
	in := []Event{{Event: "wallet_connect", TimestampInSecond: 10}}
	encoded, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Decode("%%%")
	assert.Error(t, err)
}
