package custom

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/adapters/payload"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
)

const (
	HeaderSignature = "X-Hmac-Sha256"
	HeaderTopic     = "X-Webhook-Topic"
	HeaderTestMode  = "X-Test-Mode"

	topicPrefix  = "purchase"
	defaultTopic = "purchase"
)

// Statuses passes the canonical vocabulary through unchanged.
var Statuses = domain.MustStatusTable(domain.PlatformCustom, map[string]domain.PurchaseStatus{
	string(domain.PurchaseStatusPending):   domain.PurchaseStatusPending,
	string(domain.PurchaseStatusConfirmed): domain.PurchaseStatusConfirmed,
	string(domain.PurchaseStatusRefunded):  domain.PurchaseStatusRefunded,
	string(domain.PurchaseStatusCancelled): domain.PurchaseStatusCancelled,
})

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() domain.Platform { return domain.PlatformCustom }

func (a *Adapter) Signature(headers http.Header) string {
	return strings.TrimSpace(headers.Get(HeaderSignature))
}

func (a *Adapter) MapStatus(source string) domain.PurchaseStatus {
	return Statuses.Map(source)
}

func (a *Adapter) Inspect(headers http.Header, body []byte) (domain.Delivery, error) {
	topic := strings.TrimSpace(headers.Get(HeaderTopic))
	if topic == "" {
		topic = defaultTopic
	} else if !strings.HasPrefix(topic, topicPrefix) {
		return domain.Delivery{}, fmt.Errorf("%w: %s", domain.ErrInvalidTopic, topic)
	}

	var head struct {
		Test bool `json:"test"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return domain.Delivery{}, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, err.Error())
	}

	return domain.Delivery{
		Topic:    topic,
		TestMode: payload.Truthy(headers.Get(HeaderTestMode)) || head.Test,
	}, nil
}

type purchase struct {
	ID            payload.ID      `json:"id"`
	CustomerID    payload.ID      `json:"customer_id"`
	PurchaseToken string          `json:"purchase_token"`
	Status        string          `json:"status"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Currency      string          `json:"currency"`
	Items         []struct {
		ID       payload.ID      `json:"id"`
		Name     string          `json:"name"`
		Title    string          `json:"title"`
		Price    decimal.Decimal `json:"price"`
		Quantity int             `json:"quantity"`
		ImageURL *string         `json:"image_url"`
	} `json:"items"`
}

func (a *Adapter) Normalize(body []byte) (domain.NormalizedPurchase, error) {
	var p purchase
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.NormalizedPurchase{}, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, err.Error())
	}

	out := domain.NormalizedPurchase{
		ExternalID:         p.ID.String(),
		ExternalCustomerID: p.CustomerID.String(),
		PurchaseToken:      strings.TrimSpace(p.PurchaseToken),
		Status:             a.MapStatus(p.Status),
		TotalPrice:         p.TotalPrice,
		CurrencyCode:       payload.Uppercase(p.Currency),
		Items:              make([]domain.NormalizedItem, 0, len(p.Items)),
	}
	for _, it := range p.Items {
		title := it.Title
		if title == "" {
			title = it.Name
		}
		out.Items = append(out.Items, domain.NormalizedItem{
			ExternalID: it.ID.String(),
			Name:       it.Name,
			Title:      title,
			Price:      it.Price,
			Quantity:   it.Quantity,
			ImageURL:   it.ImageURL,
		})
	}
	return out, nil
}
