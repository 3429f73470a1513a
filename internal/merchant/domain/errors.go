package domain

import "errors"

var (
	ErrWebhookNotFound      = errors.New("webhook_not_found")
	ErrUnsupportedPlatform  = errors.New("unsupported_platform")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrMissingHeader        = errors.New("missing_header")
	ErrInvalidTopic         = errors.New("invalid_topic")
	ErrInvalidResource      = errors.New("invalid_resource")
	ErrOrderIDMismatch      = errors.New("order_id_mismatch")
	ErrTestModeInProduction = errors.New("test_mode_in_production")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidSecret        = errors.New("invalid_secret")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrInvalidIdentifier    = errors.New("invalid_identifier")
)

// ReasonProcessingFailed is reported for anything that is not a known
// caller-facing rejection.
const ReasonProcessingFailed = "processing_failed"

var reasons = []error{
	ErrWebhookNotFound,
	ErrUnsupportedPlatform,
	ErrInvalidSignature,
	ErrMissingHeader,
	ErrInvalidTopic,
	ErrInvalidResource,
	ErrOrderIDMismatch,
	ErrTestModeInProduction,
	ErrInvalidPayload,
	ErrInvalidIdentifier,
}

// Reason maps an ingestion error to the low-cardinality code used in webhook
// responses and metrics.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, known := range reasons {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ReasonProcessingFailed
}
