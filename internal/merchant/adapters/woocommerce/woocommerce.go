package woocommerce

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
	HeaderSignature = "X-WC-Webhook-Signature"
	HeaderTopic     = "X-WC-Webhook-Topic"
	HeaderResource  = "X-WC-Webhook-Resource"
	HeaderTest      = "X-WC-Webhook-Test"

	topicPrefix        = "order."
	resourceOrder      = "order"
	purchaseTokenField = "purchase_token"
)

// Statuses maps order status values.
var Statuses = domain.MustStatusTable(domain.PlatformWooCommerce, map[string]domain.PurchaseStatus{
	"completed":      domain.PurchaseStatusConfirmed,
	"refunded":       domain.PurchaseStatusRefunded,
	"cancelled":      domain.PurchaseStatusCancelled,
	"pending":        domain.PurchaseStatusPending,
	"processing":     domain.PurchaseStatusPending,
	"on-hold":        domain.PurchaseStatusPending,
	"failed":         domain.PurchaseStatusPending,
	"trash":          domain.PurchaseStatusPending,
	"checkout-draft": domain.PurchaseStatusPending,
})

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Platform() domain.Platform { return domain.PlatformWooCommerce }

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
	if resource := strings.TrimSpace(headers.Get(HeaderResource)); resource != "" && resource != resourceOrder {
		return domain.Delivery{}, fmt.Errorf("%w: %s", domain.ErrInvalidResource, resource)
	}
	if !json.Valid(body) {
		return domain.Delivery{}, domain.ErrInvalidPayload
	}

	return domain.Delivery{
		Topic:    topic,
		TestMode: payload.Truthy(headers.Get(HeaderTest)),
	}, nil
}

type order struct {
	ID         payload.ID      `json:"id"`
	Status     string          `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	CustomerID payload.ID      `json:"customer_id"`
	MetaData   []struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	} `json:"meta_data"`
	LineItems []lineItem `json:"line_items"`
}

type lineItem struct {
	ID        payload.ID      `json:"id"`
	ProductID payload.ID      `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     *struct {
		Src string `json:"src"`
	} `json:"image"`
}

func (a *Adapter) Normalize(body []byte) (domain.NormalizedPurchase, error) {
	var o order
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.NormalizedPurchase{}, fmt.Errorf("%w: %s", domain.ErrInvalidPayload, err.Error())
	}

	out := domain.NormalizedPurchase{
		ExternalID:   o.ID.String(),
		Status:       a.MapStatus(o.Status),
		TotalPrice:   o.Total,
		CurrencyCode: payload.Uppercase(o.Currency),
		Items:        make([]domain.NormalizedItem, 0, len(o.LineItems)),
	}
	// Guest checkouts carry customer_id 0.
	if id := o.CustomerID.String(); id != "0" {
		out.ExternalCustomerID = id
	}
	for _, meta := range o.MetaData {
		if !strings.EqualFold(strings.TrimSpace(meta.Key), purchaseTokenField) {
			continue
		}
		var token payload.ID
		if err := json.Unmarshal(meta.Value, &token); err == nil {
			out.PurchaseToken = token.String()
		}
		break
	}
	for _, li := range o.LineItems {
		item := domain.NormalizedItem{
			ExternalID: li.ProductID.String(),
			Name:       li.Name,
			Title:      li.Name,
			Price:      li.Price,
			Quantity:   li.Quantity,
		}
		if item.ExternalID == "" || item.ExternalID == "0" {
			item.ExternalID = li.ID.String()
		}
		if li.Image != nil {
			if src := strings.TrimSpace(li.Image.Src); src != "" {
				item.ImageURL = &src
			}
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}
