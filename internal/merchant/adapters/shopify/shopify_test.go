package shopify

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderBody = `{
	"id": 1001,
	"financial_status": "paid",
	"total_price": "42.50",
	"currency": "usd",
	"customer": {"id": 7788},
	"note_attributes": [{"name": "gift", "value": "no"}, {"name": "purchase_token", "value": "tok_abc"}],
	"line_items": [
		{"id": 1, "product_id": 632910392, "name": "Mug - Blue", "title": "Mug", "price": "21.25", "quantity": 2}
	]
}`

func headers(topic, orderID string) http.Header {
	h := http.Header{}
	h.Set(HeaderTopic, topic)
	h.Set(HeaderOrderID, orderID)
	return h
}

func TestStatusMappingTotality(t *testing.T) {
	cases := map[string]domain.PurchaseStatus{
		"paid":               domain.PurchaseStatusConfirmed,
		"refunded":           domain.PurchaseStatusRefunded,
		"voided":             domain.PurchaseStatusCancelled,
		"pending":            domain.PurchaseStatusPending,
		"authorized":         domain.PurchaseStatusPending,
		"partially_paid":     domain.PurchaseStatusPending,
		"partially_refunded": domain.PurchaseStatusPending,
		"expired":            domain.PurchaseStatusPending,
		"something_new":      domain.PurchaseStatusPending,
		"":                   domain.PurchaseStatusPending,
	}
	a := New("2024-10")
	for source, want := range cases {
		assert.Equal(t, want, a.MapStatus(source), source)
	}
	for _, source := range Statuses.Sources() {
		assert.True(t, a.MapStatus(source).Valid(), source)
	}
}

func TestInspect(t *testing.T) {
	a := New("2024-10")

	delivery, err := a.Inspect(headers("orders/updated", "1001"), []byte(orderBody))
	require.NoError(t, err)
	assert.Equal(t, "orders/updated", delivery.Topic)
	assert.False(t, delivery.TestMode)
	assert.Empty(t, delivery.Warnings)

	_, err = a.Inspect(headers("products/create", "1001"), []byte(orderBody))
	assert.ErrorIs(t, err, domain.ErrInvalidTopic)

	_, err = a.Inspect(headers("orders/paid", "2002"), []byte(orderBody))
	assert.ErrorIs(t, err, domain.ErrOrderIDMismatch)

	_, err = a.Inspect(headers("", "1001"), []byte(orderBody))
	assert.ErrorIs(t, err, domain.ErrMissingHeader)

	_, err = a.Inspect(headers("orders/paid", ""), []byte(orderBody))
	assert.ErrorIs(t, err, domain.ErrMissingHeader)

	_, err = a.Inspect(headers("orders/paid", "1001"), []byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestInspectVersionMismatchIsWarning(t *testing.T) {
	h := headers("orders/paid", "1001")
	h.Set(HeaderAPIVersion, "2023-01")
	h.Set(HeaderTest, "true")

	delivery, err := New("2024-10").Inspect(h, []byte(orderBody))
	require.NoError(t, err)
	assert.True(t, delivery.TestMode)
	require.Len(t, delivery.Warnings, 1)
	assert.Contains(t, delivery.Warnings[0], "api_version_mismatch")
}

func TestNormalize(t *testing.T) {
	got, err := New("").Normalize([]byte(orderBody))
	require.NoError(t, err)

	assert.Equal(t, "1001", got.ExternalID)
	assert.Equal(t, "7788", got.ExternalCustomerID)
	assert.Equal(t, "tok_abc", got.PurchaseToken)
	assert.Equal(t, domain.PurchaseStatusConfirmed, got.Status)
	assert.True(t, decimal.RequireFromString("42.50").Equal(got.TotalPrice))
	assert.Equal(t, "USD", got.CurrencyCode)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "632910392", got.Items[0].ExternalID)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Nil(t, got.Items[0].ImageURL)
	require.NoError(t, got.Validate())
}
