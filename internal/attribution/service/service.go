package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/loyaltyrail/internal/attribution/domain"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/events"
	interactiondomain "github.com/smallbiznis/loyaltyrail/internal/interaction/domain"
	"github.com/smallbiznis/loyaltyrail/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultWindow = 30 * 24 * time.Hour

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Cfg          config.Config
	Clock        clock.Clock
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
	repo         domain.Repository
	interactions interactiondomain.Repository
	events       events.Publisher
	metrics      *metrics.Metrics
	validate     *validator.Validate
	window       time.Duration
}

func New(p Params) *Service {
	window := p.Cfg.AttributionWindow
	if window <= 0 {
		window = defaultWindow
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("attribution.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		interactions: p.Interactions,
		events:       p.Events,
		metrics:      p.Metrics,
		validate:     validator.New(),
		window:       window,
	}
}

// RecordTouchpoint stores a touchpoint that stays matchable for the
// attribution window.
func (s *Service) RecordTouchpoint(ctx context.Context, in domain.TouchpointInput) (domain.Touchpoint, error) {
	tp, err := s.newTouchpoint(in)
	if err != nil {
		return domain.Touchpoint{}, err
	}
	if err := s.repo.Insert(ctx, s.db, &tp); err != nil {
		return domain.Touchpoint{}, err
	}
	return tp, nil
}

// RecordArrival stores the touchpoint and a referral_arrival interaction
// crediting the referrer. A visitor referring themselves is rejected.
func (s *Service) RecordArrival(ctx context.Context, in domain.Arrival) (domain.Touchpoint, bool, error) {
	tp, err := s.newTouchpoint(in.TouchpointInput)
	if err != nil {
		return domain.Touchpoint{}, false, err
	}
	visitor := strings.TrimSpace(in.VisitorWallet)
	if visitor != "" && strings.EqualFold(visitor, tp.ReferrerWallet) {
		s.log.Info("attribution.arrival.self_referral", zap.String("merchant_id", tp.MerchantID.String()))
		return domain.Touchpoint{}, false, domain.ErrSelfReferral
	}

	wallet := tp.ReferrerWallet
	var created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &tp); err != nil {
			return err
		}
		created, err = s.interactions.Insert(ctx, tx, &interactiondomain.Interaction{
			ID:         s.genID.Generate(),
			MerchantID: tp.MerchantID,
			Type:       interactiondomain.TypeReferralArrival,
			SubjectRef: tp.SubjectRef,
			Reference:  tp.SubjectRef + ":" + strings.ToLower(tp.ReferrerWallet),
			Wallet:     &wallet,
			OccurredAt: tp.CreatedAt,
		})
		return err
	})
	if err != nil {
		s.log.Error("attribution.arrival.persist_failed", zap.Error(err))
		return domain.Touchpoint{}, false, err
	}

	if created {
		s.metrics.RecordInteraction(ctx, string(interactiondomain.TypeReferralArrival))
		s.events.PublishNewInteraction(ctx, events.NewInteraction{
			Type:       interactiondomain.TypeReferralArrival,
			MerchantID: tp.MerchantID,
		})
	}
	return tp, created, nil
}

// FindActive returns the touchpoint a purchase by subjectRef at the given
// instant is attributed to, or nil.
func (s *Service) FindActive(ctx context.Context, merchantID snowflake.ID, subjectRef string, at time.Time) (*domain.Touchpoint, error) {
	subjectRef = strings.TrimSpace(subjectRef)
	if subjectRef == "" {
		return nil, nil
	}
	return s.repo.FindActive(ctx, s.db, merchantID, subjectRef, at)
}

// CleanupExpiredTouchpoints deletes every touchpoint whose window has closed,
// consumed or not.
func (s *Service) CleanupExpiredTouchpoints(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.log.Info("attribution.cleanup.finished", zap.Int64("deleted", deleted))
	return deleted, nil
}

func (s *Service) newTouchpoint(in domain.TouchpointInput) (domain.Touchpoint, error) {
	in.SubjectRef = strings.TrimSpace(in.SubjectRef)
	in.ReferrerWallet = strings.TrimSpace(in.ReferrerWallet)
	in.Source = strings.TrimSpace(in.Source)
	if err := s.validate.Struct(in); err != nil {
		return domain.Touchpoint{}, fmt.Errorf("%w: %s", domain.ErrInvalidTouchpoint, err.Error())
	}
	now := s.clock.Now()
	return domain.Touchpoint{
		ID:             s.genID.Generate(),
		MerchantID:     in.MerchantID,
		SubjectRef:     in.SubjectRef,
		ReferrerWallet: in.ReferrerWallet,
		Source:         in.Source,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.window),
	}, nil
}
