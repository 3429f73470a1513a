package interaction

import (
	"github.com/smallbiznis/loyaltyrail/internal/interaction/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("interaction.repository",
	fx.Provide(repository.Provide),
)
