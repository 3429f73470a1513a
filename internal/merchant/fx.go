package merchant

import (
	"github.com/smallbiznis/loyaltyrail/internal/config"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/adapters"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/adapters/custom"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/adapters/shopify"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/adapters/woocommerce"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/repository"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/resolver"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/secrets"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("merchant.service",
	fx.Provide(repository.Provide),
	fx.Provide(secrets.NewBox),
	fx.Provide(NewRegistry),
	fx.Provide(
		fx.Annotate(resolver.New, fx.As(fx.Self()), fx.As(new(service.TargetResolver))),
	),
	fx.Provide(service.New),
)

// NewRegistry registers every supported platform adapter.
func NewRegistry(cfg config.Config) *adapters.Registry {
	return adapters.NewRegistry(
		shopify.New(cfg.Webhook.ShopifyAPIVersion),
		woocommerce.New(),
		custom.New(),
	)
}
