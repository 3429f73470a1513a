package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	interactiondomain "github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/adapters"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/resolver"
	obscontext "github.com/smallbiznis/loyaltyrail/internal/observability/context"
	"github.com/smallbiznis/loyaltyrail/internal/observability/logger"
	"github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	"github.com/smallbiznis/loyaltyrail/internal/webhook/signature"
	"github.com/smallbiznis/loyaltyrail/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TargetResolver ties a delivery to a merchant registration.
type TargetResolver interface {
	Resolve(ctx context.Context, target resolver.Target) (resolver.Resolution, error)
}

type Request struct {
	Platform domain.Platform
	Target   resolver.Target
	Body     []byte
	Headers  http.Header
}

type Result struct {
	MerchantID         snowflake.ID
	Purchase           domain.Purchase
	Delivery           domain.Delivery
	SignatureValid     bool
	InteractionCreated bool
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Cfg          config.Config
	Clock        clock.Clock
	Adapters     *adapters.Registry
	Resolver     TargetResolver
	Repo         domain.Repository
	Interactions interactiondomain.Repository
	Events       events.Publisher
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	adapters     *adapters.Registry
	resolver     TargetResolver
	repo         domain.Repository
	interactions interactiondomain.Repository
	events       events.Publisher
	metrics      *metrics.Metrics

	enforceSignature bool
	production       bool
}

func New(p Params) *Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("merchant.webhook"),
		genID:            p.GenID,
		clock:            p.Clock,
		adapters:         p.Adapters,
		resolver:         p.Resolver,
		repo:             p.Repo,
		interactions:     p.Interactions,
		events:           p.Events,
		metrics:          p.Metrics,
		enforceSignature: p.Cfg.Webhook.EnforceSignature,
		production:       p.Cfg.IsProduction(),
	}
}

// Ingest authenticates, validates and stores one webhook delivery. Every
// rejection happens before the first write.
func (s *Service) Ingest(ctx context.Context, req Request) (res Result, err error) {
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("platform", string(req.Platform)),
		zap.String("correlation_id", cid),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = domain.Reason(err)
		}
		s.metrics.RecordWebhookDelivery(ctx, string(req.Platform), outcome)
	}()

	adapter, err := s.adapters.Get(req.Platform)
	if err != nil {
		log.Warn("webhook.platform.unsupported")
		return Result{}, err
	}

	resolution, err := s.resolver.Resolve(ctx, req.Target)
	if err == nil && resolution.Webhook.Platform != req.Platform {
		err = domain.ErrWebhookNotFound
	}
	if err != nil {
		if errors.Is(err, domain.ErrWebhookNotFound) {
			log.Warn("webhook.config.not_found")
		} else {
			log.Error("webhook.resolve.failed", zap.Error(err))
		}
		return Result{}, err
	}
	res.MerchantID = resolution.MerchantID
	ctx = obscontext.WithMerchantID(ctx, resolution.MerchantID.String())
	log = log.With(zap.String("merchant_id", resolution.MerchantID.String()))

	res.SignatureValid = signature.Verify(req.Body, resolution.Secret, adapter.Signature(req.Headers))
	if !res.SignatureValid {
		log.Warn("webhook.signature.mismatch", zap.Bool("enforced", s.enforceSignature))
		if s.enforceSignature {
			return res, domain.ErrInvalidSignature
		}
	}

	delivery, err := adapter.Inspect(req.Headers, req.Body)
	if err != nil {
		log.Info("webhook.delivery.rejected", zap.String("reason", domain.Reason(err)), zap.Error(err))
		return res, err
	}
	res.Delivery = delivery
	for _, warning := range delivery.Warnings {
		log.Warn("webhook.delivery.warning", zap.String("warning", warning))
	}
	if delivery.TestMode && s.production {
		log.Warn("webhook.test_mode.rejected", zap.String("topic", delivery.Topic))
		return res, domain.ErrTestModeInProduction
	}

	normalized, err := adapter.Normalize(req.Body)
	if err == nil {
		err = normalized.Validate()
	}
	if err != nil {
		log.Info("webhook.payload.invalid", zap.Error(err))
		return res, err
	}

	now := s.clock.Now()
	purchase, items := s.toRecords(resolution.MerchantID, req, normalized, now)

	var interaction *interactiondomain.Interaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.repo.UpsertPurchase(ctx, tx, purchase, items)
		if err != nil {
			return err
		}
		res.Purchase = stored

		if stored.Status != domain.PurchaseStatusConfirmed {
			return nil
		}
		interaction = &interactiondomain.Interaction{
			ID:         s.genID.Generate(),
			MerchantID: stored.MerchantID,
			Type:       interactiondomain.TypePurchase,
			SubjectRef: subjectRef(stored),
			Reference:  stored.Reference(),
			OccurredAt: now,
		}
		created, err := s.interactions.Insert(ctx, tx, interaction)
		if err != nil {
			return err
		}
		res.InteractionCreated = created
		return nil
	})
	if err != nil {
		log.Error("webhook.persist.failed", zap.Error(err))
		return res, fmt.Errorf("persist purchase: %w", err)
	}

	log.Info("webhook.purchase.stored",
		zap.String("external_id", res.Purchase.ExternalID),
		zap.String("status", string(res.Purchase.Status)),
		zap.Bool("interaction_created", res.InteractionCreated),
	)

	if res.InteractionCreated {
		s.metrics.RecordInteraction(ctx, string(interactiondomain.TypePurchase))
		s.events.PublishNewInteraction(ctx, events.NewInteraction{
			Type:          interactiondomain.TypePurchase,
			MerchantID:    res.MerchantID,
			CorrelationID: cid,
		})
	}
	return res, nil
}

func (s *Service) toRecords(merchantID snowflake.ID, req Request, n domain.NormalizedPurchase, now time.Time) (*domain.Purchase, []domain.PurchaseItem) {
	purchase := &domain.Purchase{
		ID:                 s.genID.Generate(),
		MerchantID:         merchantID,
		Platform:           req.Platform,
		ExternalID:         n.ExternalID,
		ExternalCustomerID: n.ExternalCustomerID,
		PurchaseToken:      n.PurchaseToken,
		Status:             n.Status,
		TotalPrice:         n.TotalPrice,
		CurrencyCode:       n.CurrencyCode,
		RawPayload:         datatypes.JSON(req.Body),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	items := make([]domain.PurchaseItem, 0, len(n.Items))
	for _, item := range n.Items {
		items = append(items, domain.PurchaseItem{
			ID:         s.genID.Generate(),
			ExternalID: item.ExternalID,
			Name:       item.Name,
			Title:      item.Title,
			Price:      item.Price,
			Quantity:   item.Quantity,
			ImageURL:   item.ImageURL,
		})
	}
	return purchase, items
}

// subjectRef is the key attribution touchpoints are recorded under.
func subjectRef(p domain.Purchase) string {
	if p.PurchaseToken != "" {
		return p.PurchaseToken
	}
	return p.ExternalCustomerID
}
