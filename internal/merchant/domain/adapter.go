package domain

import "net/http"

// Adapter turns one platform's webhook into a NormalizedPurchase.
type Adapter interface {
	Platform() Platform
	// Signature returns the signature header value as sent.
	Signature(headers http.Header) string
	// Inspect checks header-level invariants before the body is trusted.
	Inspect(headers http.Header, body []byte) (Delivery, error)
	Normalize(body []byte) (NormalizedPurchase, error)
	MapStatus(source string) PurchaseStatus
}
