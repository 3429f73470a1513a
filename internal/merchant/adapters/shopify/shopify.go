package shopify

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
	HeaderSignature  = "X-Shopify-Hmac-Sha256"
	HeaderTopic      = "X-Shopify-Topic"
	HeaderOrderID    = "X-Shopify-Order-Id"
	HeaderAPIVersion = "X-Shopify-Api-Version"
	HeaderTest       = "X-Shopify-Test"

	topicPrefix        = "orders/"
	purchaseTokenField = "purchase_token"
)

// Statuses maps financial_status values.
var Statuses = domain.MustStatusTable(domain.PlatformShopify, map[string]domain.PurchaseStatus{
	"paid":               domain.PurchaseStatusConfirmed,
	"refunded":           domain.PurchaseStatusRefunded,
	"voided":             domain.PurchaseStatusCancelled,
	"pending":            domain.PurchaseStatusPending,
	"authorized":         domain.PurchaseStatusPending,
	"partially_paid":     domain.PurchaseStatusPending,
	"partially_refunded": domain.PurchaseStatusPending,
	"expired":            domain.PurchaseStatusPending,
})

type Adapter struct {
	apiVersion string
}

// New returns the adapter. apiVersion is the version deliveries are expected
// to carry; other versions are accepted with a warning.
func New(apiVersion string) *Adapter {
	return &Adapter{apiVersion: strings.TrimSpace(apiVersion)}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformShopify }

func (a *Adapter) Signature(headers http.Header) string {
	return strings.TrimSpace(headers.Get(HeaderSignature))
}

func (a *Adapter) MapStatus(source string) domain.PurchaseStatus {
	return Statuses.Map(source)
}

func (a *Adapter) Inspect(headers http.Header, body []byte) (domain.Delivery, error) {
	topic := strings.TrimSpace(headers.Get(HeaderTopic))
	if topic == "" {
		return domain.Delivery{}, fmt.Errorf("%w: %s", domain.ErrMissingHeader, HeaderTopic)
	}
	if !strings.HasPrefix(topic, topicPrefix) {
		return domain.Delivery{}, fmt.Errorf("%w: %s", domain.ErrInvalidTopic, topic)
	}

	headerOrderID := strings.TrimSpace(headers.Get(HeaderOrderID))
	if headerOrderID == "" {
		return domain.Delivery{}, fmt.Errorf("%w: %s", domain.ErrMissingHeader, HeaderOrderID)
	}

	var head struct {
		ID   payload.ID `json:"id"`
		Test bool       `json:"test"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return domain.Delivery{}, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, err.Error())
	}
	if head.ID.String() != headerOrderID {
		return domain.Delivery{}, fmt.Errorf("%w: header %s body %s", domain.ErrOrderIDMismatch, headerOrderID, head.ID)
	}

	delivery := domain.Delivery{
		Topic:    topic,
		TestMode: payload.Truthy(headers.Get(HeaderTest)) || head.Test,
	}
	if version := strings.TrimSpace(headers.Get(HeaderAPIVersion)); a.apiVersion != "" && version != "" && version != a.apiVersion {
		delivery.Warnings = append(delivery.Warnings, fmt.Sprintf("api_version_mismatch: got %s want %s", version, a.apiVersion))
	}
	return delivery, nil
}

type order struct {
	ID              payload.ID      `json:"id"`
	FinancialStatus string          `json:"financial_status"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	Currency        string          `json:"currency"`
	Customer        *struct {
		ID payload.ID `json:"id"`
	} `json:"customer"`
	NoteAttributes []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"note_attributes"`
	LineItems []lineItem `json:"line_items"`
}

type lineItem struct {
	ID        payload.ID      `json:"id"`
	ProductID payload.ID      `json:"product_id"`
	Name      string          `json:"name"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	ImageURL  string          `json:"image_url"`
}

func (a *Adapter) Normalize(body []byte) (domain.NormalizedPurchase, error) {
	var o order
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.NormalizedPurchase{}, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, err.Error())
	}

	out := domain.NormalizedPurchase{
		ExternalID:   o.ID.String(),
		Status:       a.MapStatus(o.FinancialStatus),
		TotalPrice:   o.TotalPrice,
		CurrencyCode: payload.Uppercase(o.Currency),
		Items:        make([]domain.NormalizedItem, 0, len(o.LineItems)),
	}
	if o.Customer != nil {
		out.ExternalCustomerID = o.Customer.ID.String()
	}
	for _, attr := range o.NoteAttributes {
		if strings.EqualFold(strings.TrimSpace(attr.Name), purchaseTokenField) {
			out.PurchaseToken = strings.TrimSpace(attr.Value)
			break
		}
	}
	for _, li := range o.LineItems {
		item := domain.NormalizedItem{
			ExternalID: li.ProductID.String(),
			Name:       li.Name,
			Title:      li.Title,
			Price:      li.Price,
			Quantity:   li.Quantity,
		}
		if item.ExternalID == "" {
			item.ExternalID = li.ID.String()
		}
		if url := strings.TrimSpace(li.ImageURL); url != "" {
			item.ImageURL = &url
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}
