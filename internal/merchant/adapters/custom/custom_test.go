package custom

import (
	"net/http"
	"testing"

	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPassThrough(t *testing.T) {
	a := New()
	for _, status := range []domain.PurchaseStatus{
		domain.PurchaseStatusPending,
		domain.PurchaseStatusConfirmed,
		domain.PurchaseStatusRefunded,
		domain.PurchaseStatusCancelled,
	} {
		assert.Equal(t, status, a.MapStatus(string(status)))
	}
	assert.Equal(t, domain.PurchaseStatusPending, a.MapStatus("shipped"))
	assert.Equal(t, domain.PurchaseStatusConfirmed, a.MapStatus("CONFIRMED"))
}

func TestInspect(t *testing.T) {
	a := New()

	delivery, err := a.Inspect(http.Header{}, []byte(`{"id":"ord-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "purchase", delivery.Topic)
	assert.False(t, delivery.TestMode)

	h := http.Header{}
	h.Set(HeaderTopic, "purchase.updated")
	delivery, err = a.Inspect(h, []byte(`{"id":"ord-1","test":true}`))
	require.NoError(t, err)
	assert.True(t, delivery.TestMode)

	h = http.Header{}
	h.Set(HeaderTestMode, "true")
	delivery, err = a.Inspect(h, []byte(`{"id":"ord-1"}`))
	require.NoError(t, err)
	assert.True(t, delivery.TestMode)

	h.Set(HeaderTopic, "refund.created")
	_, err = a.Inspect(h, []byte(`{"id":"ord-1"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidTopic)
}

func TestNormalize(t *testing.T) {
	body := `{"id":"ord-9","customer_id":42,"purchase_token":" tok ","status":"refunded","total_price":"5","currency":"idr",
		"items":[{"id":"sku-1","name":"Coffee","price":"5","quantity":1,"image_url":"https://cdn.example.com/c.png"}]}`

	got, err := New().Normalize([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "ord-9", got.ExternalID)
	assert.Equal(t, "42", got.ExternalCustomerID)
	assert.Equal(t, "tok", got.PurchaseToken)
	assert.Equal(t, domain.PurchaseStatusRefunded, got.Status)
	assert.Equal(t, "IDR", got.CurrencyCode)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Coffee", got.Items[0].Title)
	require.NoError(t, got.Validate())

	_, err = New().Normalize([]byte(`[]`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
