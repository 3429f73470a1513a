package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	"github.com/smallbiznis/loyaltyrail/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIsIdempotentOnReference(t *testing.T) {
	db := testutil.NewDB(t)
	r := Provide()
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	created, err := r.Insert(ctx, db, &domain.Interaction{ID: 1, MerchantID: 42, Type: domain.TypePurchase, Reference: "1001", OccurredAt: at})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.Insert(ctx, db, &domain.Interaction{ID: 2, MerchantID: 42, Type: domain.TypePurchase, Reference: "1001", OccurredAt: at})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = r.Insert(ctx, db, &domain.Interaction{ID: 3, MerchantID: 42, Type: domain.TypeReferralArrival, Reference: "1001", OccurredAt: at})
	require.NoError(t, err)
	assert.True(t, created, "reference is scoped by type")
}

func TestListAndMarkProcessed(t *testing.T) {
	db := testutil.NewDB(t)
	r := Provide()
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	wallet := "0xabc"

	for i, ref := range []string{"a", "b", "c"} {
		_, err := r.Insert(ctx, db, &domain.Interaction{
			ID: snowflake.ID(i + 1), MerchantID: 42, Type: domain.TypePurchase, Reference: ref,
			Wallet: &wallet, OccurredAt: at.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	rows, err := r.ListUnprocessed(ctx, db, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Reference)
	require.NotNil(t, rows[0].Wallet)
	assert.Equal(t, wallet, *rows[0].Wallet)

	require.NoError(t, r.MarkProcessed(ctx, db, []snowflake.ID{1, 2}, at.Add(time.Hour)))

	rows, err = r.ListUnprocessed(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].Reference)

	found, err := r.FindByIDs(ctx, db, []snowflake.ID{1, 3})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.NotNil(t, found[0].ProcessedAt)
	assert.Nil(t, found[1].ProcessedAt)
}

func TestParseType(t *testing.T) {
	typ, err := domain.ParseType("Wallet_Connect")
	require.NoError(t, err)
	assert.Equal(t, domain.TypeWalletConnect, typ)

	_, err = domain.ParseType("page_view")
	assert.ErrorIs(t, err, domain.ErrInvalidType)
}
