package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/smallbiznis/loyaltyrail/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newPurchase(status domain.PurchaseStatus, total string, at time.Time) *domain.Purchase {
	return &domain.Purchase{
		MerchantID:   42,
		Platform:     domain.PlatformShopify,
		ExternalID:   "1001",
		Status:       status,
		TotalPrice:   decimal.RequireFromString(total),
		CurrencyCode: "USD",
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestUpsertPurchaseIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	deliver := func() domain.Purchase {
		p := newPurchase(domain.PurchaseStatusConfirmed, "20.00", now)
		p.ID = node.Generate()
		items := []domain.PurchaseItem{
			{ID: node.Generate(), ExternalID: "sku-1", Name: "Mug", Price: decimal.RequireFromString("10"), Quantity: 1},
			{ID: node.Generate(), ExternalID: "sku-2", Name: "Cup", Price: decimal.RequireFromString("10"), Quantity: 1},
		}
		stored, err := r.UpsertPurchase(ctx, db, p, items)
		require.NoError(t, err)
		return stored
	}

	first := deliver()
	second := deliver()
	assert.Equal(t, first.ID, second.ID)

	count, err := r.CountPurchases(ctx, db, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	items, err := r.ListItems(ctx, db, first.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.ElementsMatch(t, []string{"sku-1", "sku-2"}, []string{items[0].ExternalID, items[1].ExternalID})
}

func TestUpsertPurchaseLastWriteWins(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := newPurchase(domain.PurchaseStatusPending, "10.00", now)
	a.ID = node.Generate()
	_, err := r.UpsertPurchase(ctx, db, a, []domain.PurchaseItem{
		{ID: node.Generate(), ExternalID: "sku-1", Price: decimal.RequireFromString("10"), Quantity: 1},
	})
	require.NoError(t, err)

	b := newPurchase(domain.PurchaseStatusConfirmed, "12.50", now.Add(time.Minute))
	b.ID = node.Generate()
	b.PurchaseToken = "tok"
	b.RawPayload = datatypes.JSON(`{"id":1001}`)
	stored, err := r.UpsertPurchase(ctx, db, b, []domain.PurchaseItem{
		{ID: node.Generate(), ExternalID: "sku-9", Price: decimal.RequireFromString("12.50"), Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.ID, "update keeps the original row id")

	found, err := r.FindPurchase(ctx, db, 42, domain.PlatformShopify, "1001")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.PurchaseStatusConfirmed, found.Status)
	assert.True(t, decimal.RequireFromString("12.50").Equal(found.TotalPrice))
	assert.Equal(t, "tok", found.PurchaseToken)

	items, err := r.ListItems(ctx, db, stored.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sku-9", items[0].ExternalID)
}

func TestUpsertPurchaseKeyIncludesPlatform(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	shop := newPurchase(domain.PurchaseStatusConfirmed, "25.50", now)
	shop.ID = node.Generate()
	shopStored, err := r.UpsertPurchase(ctx, db, shop, nil)
	require.NoError(t, err)

	woo := newPurchase(domain.PurchaseStatusCancelled, "1.00", now.Add(time.Minute))
	woo.ID = node.Generate()
	woo.Platform = domain.PlatformWooCommerce
	wooStored, err := r.UpsertPurchase(ctx, db, woo, nil)
	require.NoError(t, err)
	assert.NotEqual(t, shopStored.ID, wooStored.ID)

	count, err := r.CountPurchases(ctx, db, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	found, err := r.FindPurchase(ctx, db, 42, domain.PlatformShopify, "1001")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.PurchaseStatusConfirmed, found.Status)
	assert.True(t, decimal.RequireFromString("25.50").Equal(found.TotalPrice))
}

func TestWebhookLookups(t *testing.T) {
	db := testutil.NewDB(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.InsertWebhook(ctx, db, &domain.WebhookConfig{
		ID: 1, MerchantID: 42, Platform: domain.PlatformShopify, Identifier: "shop-42",
		SigningSecret: datatypes.JSON(`{"version":1}`), IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, r.InsertWebhook(ctx, db, &domain.WebhookConfig{
		ID: 2, MerchantID: 42, Platform: domain.PlatformCustom, Identifier: "old-hook",
		SigningSecret: datatypes.JSON(`{"version":1}`), IsActive: false, CreatedAt: now, UpdatedAt: now,
	}))

	cfg, err := r.FindActiveWebhook(ctx, db, 42, domain.PlatformShopify)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "shop-42", cfg.Identifier)

	cfg, err = r.FindActiveWebhook(ctx, db, 42, domain.PlatformWooCommerce)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = r.FindWebhookByIdentifier(ctx, db, "old-hook")
	require.NoError(t, err)
	assert.Nil(t, cfg, "inactive configs do not resolve")

	err = r.InsertWebhook(ctx, db, &domain.WebhookConfig{
		ID: 3, MerchantID: 42, Platform: domain.PlatformShopify, Identifier: "shop-42-b",
		SigningSecret: datatypes.JSON(`{}`), IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	assert.Error(t, err, "one active config per merchant and platform")
}
