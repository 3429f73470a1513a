package reward

import (
	attributionservice "github.com/smallbiznis/loyaltyrail/internal/attribution/service"
	"github.com/smallbiznis/loyaltyrail/internal/reward/calculator"
	"github.com/smallbiznis/loyaltyrail/internal/reward/domain"
	"github.com/smallbiznis/loyaltyrail/internal/reward/repository"
	"github.com/smallbiznis/loyaltyrail/internal/reward/settlement"
	"github.com/smallbiznis/loyaltyrail/internal/reward/submitter"
	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	fx.Provide(repository.Provide),
	fx.Provide(fx.Annotate(submitter.New, fx.As(new(domain.Relayer)))),
	fx.Provide(func(s *attributionservice.Service) calculator.TouchpointFinder { return s }),
	fx.Provide(calculator.New),
	fx.Provide(settlement.New),
)
