package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
)

// PipelineModule provides the hot-reloaded pipeline config. It needs a logger.
var PipelineModule = fx.Module("config.pipeline",
	fx.Provide(NewPipelineConfigHolder),
)
