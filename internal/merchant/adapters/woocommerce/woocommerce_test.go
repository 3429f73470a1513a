package woocommerce

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderBody = `{
	"id": 727,
	"status": "completed",
	"currency": "eur",
	"total": "29.35",
	"customer_id": 0,
	"meta_data": [{"id": 1, "key": "purchase_token", "value": "tok_woo"}],
	"line_items": [
		{"id": 315, "product_id": 93, "name": "Woo Single", "quantity": 2, "price": 9.5, "image": {"id": "4", "src": "https://example.com/single.jpg"}},
		{"id": 316, "product_id": 0, "name": "Gift wrap", "quantity": 1, "price": "10.35"}
	]
}`

func TestStatusMappingTotality(t *testing.T) {
	cases := map[string]domain.PurchaseStatus{
		"completed":      domain.PurchaseStatusConfirmed,
		"refunded":       domain.PurchaseStatusRefunded,
		"cancelled":      domain.PurchaseStatusCancelled,
		"pending":        domain.PurchaseStatusPending,
		"processing":     domain.PurchaseStatusPending,
		"on-hold":        domain.PurchaseStatusPending,
		"failed":         domain.PurchaseStatusPending,
		"trash":          domain.PurchaseStatusPending,
		"checkout-draft": domain.PurchaseStatusPending,
		"wc-custom":      domain.PurchaseStatusPending,
	}
	a := New()
	for source, want := range cases {
		assert.Equal(t, want, a.MapStatus(source), source)
	}
}

func TestInspect(t *testing.T) {
	a := New()
	h := http.Header{}
	h.Set(HeaderTopic, "order.updated")
	h.Set(HeaderResource, "order")

	delivery, err := a.Inspect(h, []byte(orderBody))
	require.NoError(t, err)
	assert.Equal(t, "order.updated", delivery.Topic)
	assert.False(t, delivery.TestMode)

	h.Set(HeaderResource, "product")
	_, err = a.Inspect(h, []byte(orderBody))
	assert.ErrorIs(t, err, domain.ErrInvalidResource)

	h.Del(HeaderResource)
	h.Set(HeaderTopic, "product.created")
	_, err = a.Inspect(h, []byte(orderBody))
	assert.ErrorIs(t, err, domain.ErrInvalidTopic)

	h.Set(HeaderTopic, "order.created")
	h.Set(HeaderTest, "1")
	delivery, err = a.Inspect(h, []byte(orderBody))
	require.NoError(t, err)
	assert.True(t, delivery.TestMode)

	_, err = a.Inspect(h, []byte("webhook_id=12"))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestNormalize(t *testing.T) {
	got, err := New().Normalize([]byte(orderBody))
	require.NoError(t, err)

	assert.Equal(t, "727", got.ExternalID)
	assert.Equal(t, "", got.ExternalCustomerID)
	assert.Equal(t, "tok_woo", got.PurchaseToken)
	assert.Equal(t, domain.PurchaseStatusConfirmed, got.Status)
	assert.Equal(t, "EUR", got.CurrencyCode)
	assert.True(t, decimal.RequireFromString("29.35").Equal(got.TotalPrice))
	require.Len(t, got.Items, 2)
	assert.Equal(t, "93", got.Items[0].ExternalID)
	require.NotNil(t, got.Items[0].ImageURL)
	assert.Equal(t, "https://example.com/single.jpg", *got.Items[0].ImageURL)
	assert.True(t, decimal.RequireFromString("9.5").Equal(got.Items[0].Price))
	assert.Equal(t, "316", got.Items[1].ExternalID)
	require.NoError(t, got.Validate())
}
