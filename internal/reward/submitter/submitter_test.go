package submitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyaltyrail/internal/reward/domain"
	"github.com/smallbiznis/loyaltyrail/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitPostsSettlement(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/settlements", r.URL.Path)
		assert.Equal(t, "Bearer relay-token", r.Header.Get("Authorization"))
		assert.Equal(t, "batch-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "cid-1", r.Header.Get("X-Correlation-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"txHash":"0xfeed"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "relay-token", time.Second)
	ctx := correlation.ContextWithCorrelationID(context.Background(), "cid-1")
	hash, err := client.Submit(ctx, domain.Settlement{
		BatchID:      "batch-1",
		MerchantID:   42,
		Denomination: "LOYAL",
		Transfers:    []domain.Transfer{{Wallet: "0xabc", Amount: decimal.RequireFromString("12.5")}},
		Attestation:  "W10=",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", hash)

	assert.Equal(t, "batch-1", got["batchId"])
	assert.Equal(t, "42", got["merchantId"])
	assert.Equal(t, "LOYAL", got["denomination"])
	assert.Equal(t, "W10=", got["attestation"])
	transfers := got["transfers"].([]any)
	require.Len(t, transfers, 1)
	assert.Equal(t, "12.5", transfers[0].(map[string]any)["amount"])
}

func TestSubmitErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusBadGateway, `upstream down`, domain.ErrRelayerUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, domain.ErrRelayerUnavailable},
		{"rejected", http.StatusUnprocessableEntity, `{"error":"bad wallet"}`, domain.ErrRelayerRejected},
		{"empty hash", http.StatusOK, `{"txHash":""}`, domain.ErrInvalidTxHash},
		{"garbage", http.StatusOK, `not json`, domain.ErrRelayerRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", time.Second).Submit(context.Background(), domain.Settlement{BatchID: "b"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSubmitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", time.Second).Submit(context.Background(), domain.Settlement{BatchID: "b"})
	assert.ErrorIs(t, err, domain.ErrRelayerUnavailable)
}

func TestTransactionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/transactions/0xok":
			_, _ = w.Write([]byte(`{"status":"confirmed"}`))
		case "/v1/transactions/0xbad":
			_, _ = w.Write([]byte(`{"status":"failed"}`))
		case "/v1/transactions/0xodd":
			_, _ = w.Write([]byte(`{"status":"dropped"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL, "", time.Second)
	ctx := context.Background()

	status, err := client.TransactionStatus(ctx, "0xok")
	require.NoError(t, err)
	assert.Equal(t, domain.TxConfirmed, status)

	status, err = client.TransactionStatus(ctx, "0xbad")
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, status)

	status, err = client.TransactionStatus(ctx, "0xunknown")
	require.NoError(t, err)
	assert.Equal(t, domain.TxPending, status)

	_, err = client.TransactionStatus(ctx, "0xodd")
	assert.ErrorIs(t, err, domain.ErrRelayerRejected)
}
