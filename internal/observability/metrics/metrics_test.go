package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("platform", "shopify"),
		attribute.String("merchant_id", "456"),
		attribute.String("wallet", "0xabc"),
		attribute.String("outcome", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "merchant_id" || attr.Key == "wallet" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.RecordWebhookDelivery(nil, "shopify", "ok")
	m.RecordInteraction(nil, "purchase")
	m.RecordSettlement(nil, "pushed", 3)
	m.RecordEventPublished(nil, "new_interaction")
}
