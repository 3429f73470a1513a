package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/loyaltyrail/internal/clock"
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/secrets"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Target selects how a delivery is tied to a merchant. The set of targets is
// closed: DirectTarget and IdentifierTarget.
type Target interface {
	target()
	cacheKey() string
}

// DirectTarget carries the merchant id from the URL path.
type DirectTarget struct {
	Platform   domain.Platform
	MerchantID snowflake.ID
}

func (DirectTarget) target() {}

func (t DirectTarget) cacheKey() string {
	return fmt.Sprintf("direct:%s:%d", t.Platform, t.MerchantID)
}

// IdentifierTarget carries an opaque registration identifier.
type IdentifierTarget struct {
	Identifier string
}

func (IdentifierTarget) target() {}

func (t IdentifierTarget) cacheKey() string {
	return "identifier:" + t.Identifier
}

// Resolution is a matched, active registration with its secret unsealed.
type Resolution struct {
	Webhook    domain.WebhookConfig
	MerchantID snowflake.ID
	Secret     string
}

type cacheEntry struct {
	resolution Resolution
	expiresAt  time.Time
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Box   *secrets.Box
	Clock clock.Clock
	Cfg   config.Config
}

type Resolver struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	box   *secrets.Box
	clock clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(p Params) *Resolver {
	return &Resolver{
		db:    p.DB,
		log:   p.Log.Named("merchant.resolver"),
		repo:  p.Repo,
		box:   p.Box,
		clock: p.Clock,
		ttl:   p.Cfg.Webhook.ResolverCacheTTL,
		cache: map[string]cacheEntry{},
	}
}

// Resolve finds the active registration for target. A missing or inactive
// registration returns domain.ErrWebhookNotFound.
func (r *Resolver) Resolve(ctx context.Context, target Target) (Resolution, error) {
	if target == nil {
		return Resolution{}, domain.ErrWebhookNotFound
	}
	key := target.cacheKey()
	if res, ok := r.cached(key); ok {
		return res, nil
	}

	var (
		cfg *domain.WebhookConfig
		err error
	)
	switch t := target.(type) {
	case DirectTarget:
		if t.MerchantID == 0 {
			return Resolution{}, domain.ErrWebhookNotFound
		}
		cfg, err = r.repo.FindActiveWebhook(ctx, r.db, t.MerchantID, t.Platform)
	case IdentifierTarget:
		identifier := strings.TrimSpace(t.Identifier)
		if identifier == "" {
			return Resolution{}, domain.ErrWebhookNotFound
		}
		cfg, err = r.repo.FindWebhookByIdentifier(ctx, r.db, identifier)
	default:
		return Resolution{}, domain.ErrWebhookNotFound
	}
	if err != nil {
		return Resolution{}, err
	}
	if cfg == nil {
		return Resolution{}, domain.ErrWebhookNotFound
	}

	secret, err := r.box.Open(cfg.SigningSecret)
	if err != nil {
		r.log.Error("resolver.secret.unseal_failed",
			zap.String("webhook_id", cfg.ID.String()),
			zap.Error(err),
		)
		return Resolution{}, err
	}

	res := Resolution{Webhook: *cfg, MerchantID: cfg.MerchantID, Secret: secret}
	r.store(key, res)
	return res, nil
}

// Purge drops every cached resolution.
func (r *Resolver) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[string]cacheEntry{}
}

func (r *Resolver) cached(key string) (Resolution, bool) {
	if r.ttl <= 0 {
		return Resolution{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return Resolution{}, false
	}
	if !r.clock.Now().Before(entry.expiresAt) {
		delete(r.cache, key)
		return Resolution{}, false
	}
	return entry.resolution, true
}

func (r *Resolver) store(key string, res Resolution) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cacheEntry{resolution: res, expiresAt: r.clock.Now().Add(r.ttl)}
}
