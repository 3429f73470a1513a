package attribution

import (
	"github.com/smallbiznis/loyaltyrail/internal/attribution/repository"
	"github.com/smallbiznis/loyaltyrail/internal/attribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attribution.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
