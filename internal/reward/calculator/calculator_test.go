package calculator

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/smallbiznis/loyaltyrail/internal/attribution/domain"
	attributionrepo "github.com/smallbiznis/loyaltyrail/internal/attribution/repository"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	interactiondomain "github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	interactionrepo "github.com/smallbiznis/loyaltyrail/internal/interaction/repository"
	"github.com/smallbiznis/loyaltyrail/internal/reward/domain"
	"github.com/smallbiznis/loyaltyrail/internal/reward/repository"
	"github.com/smallbiznis/loyaltyrail/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recorder struct {
	pending []events.NewPendingRewards
}

func (r *recorder) PublishNewInteraction(ctx context.Context, evt events.NewInteraction) {}

func (r *recorder) PublishNewPendingRewards(ctx context.Context, evt events.NewPendingRewards) {
	r.pending = append(r.pending, evt)
}

type touchpoints struct {
	db   *gorm.DB
	repo attributiondomain.Repository
}

func (t touchpoints) FindActive(ctx context.Context, merchantID snowflake.ID, subjectRef string, at time.Time) (*attributiondomain.Touchpoint, error) {
	return t.repo.FindActive(ctx, t.db, merchantID, subjectRef, at)
}

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	calc  *Calculator
	rec   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := &recorder{}
	calc := New(Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Pipeline:     config.NewStaticPipelineConfigHolder(config.DefaultPipelineConfig()),
		Repo:         repository.Provide(),
		Interactions: interactionrepo.Provide(),
		Touchpoints:  touchpoints{db: db, repo: attributionrepo.Provide()},
		Events:       rec,
	})
	return &fixture{db: db, node: node, clock: clk, calc: calc, rec: rec}
}

func (f *fixture) interaction(t *testing.T, typ interactiondomain.Type, subject, reference string, wallet *string) snowflake.ID {
	t.Helper()
	row := &interactiondomain.Interaction{
		ID:         f.node.Generate(),
		MerchantID: 42,
		Type:       typ,
		SubjectRef: subject,
		Reference:  reference,
		Wallet:     wallet,
		OccurredAt: f.clock.Now(),
	}
	created, err := interactionrepo.Provide().Insert(context.Background(), f.db, row)
	require.NoError(t, err)
	require.True(t, created)
	return row.ID
}

func (f *fixture) touchpoint(t *testing.T, subject, wallet string, expires time.Time) {
	t.Helper()
	require.NoError(t, attributionrepo.Provide().Insert(context.Background(), f.db, &attributiondomain.Touchpoint{
		ID:             f.node.Generate(),
		MerchantID:     42,
		SubjectRef:     subject,
		ReferrerWallet: wallet,
		CreatedAt:      f.clock.Now().Add(-time.Hour),
		ExpiresAt:      expires,
	}))
}

func (f *fixture) rewards(t *testing.T) map[snowflake.ID]domain.PendingReward {
	t.Helper()
	var rows []domain.PendingReward
	require.NoError(t, f.db.Find(&rows).Error)
	out := map[snowflake.ID]domain.PendingReward{}
	for _, row := range rows {
		out[row.InteractionID] = row
	}
	return out
}

func TestCalculateAttributesPurchases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wallet := "0xdirect"

	f.touchpoint(t, "tok-live", "0xreferrer", f.clock.Now().Add(time.Hour))
	f.touchpoint(t, "tok-expired", "0xlate", f.clock.Now().Add(-time.Minute))

	attributed := f.interaction(t, interactiondomain.TypePurchase, "tok-live", "order-1", nil)
	expired := f.interaction(t, interactiondomain.TypePurchase, "tok-expired", "order-2", nil)
	unreferred := f.interaction(t, interactiondomain.TypePurchase, "nobody", "order-3", nil)
	direct := f.interaction(t, interactiondomain.TypeWalletConnect, "user-1", "connect-1", &wallet)
	zeroAmount := f.interaction(t, interactiondomain.TypeReferralArrival, "tok-live", "arrival-1", &wallet)

	created, err := f.calc.Calculate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	rewards := f.rewards(t)
	require.Len(t, rewards, 2)
	assert.Equal(t, "0xreferrer", rewards[attributed].Wallet)
	assert.Equal(t, "10", rewards[attributed].Amount.String())
	assert.Equal(t, "LOYAL", rewards[attributed].Denomination)
	assert.Equal(t, domain.StatusPending, rewards[attributed].Status)
	assert.Equal(t, "0xdirect", rewards[direct].Wallet)
	assert.Equal(t, "1", rewards[direct].Amount.String())
	assert.NotContains(t, rewards, expired)
	assert.NotContains(t, rewards, unreferred)
	assert.NotContains(t, rewards, zeroAmount)

	require.Len(t, f.rec.pending, 1)
	assert.Equal(t, 2, f.rec.pending[0].Count)

	left, err := interactionrepo.Provide().ListUnprocessed(ctx, f.db, 100)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestCalculateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	wallet := "0xdirect"
	f.interaction(t, interactiondomain.TypeWalletConnect, "user-1", "connect-1", &wallet)

	created, err := f.calc.Calculate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = f.calc.Calculate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, f.rewards(t), 1)
	assert.Len(t, f.rec.pending, 1)
}
