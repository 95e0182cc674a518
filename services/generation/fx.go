package generation

import (
	"go.uber.org/fx"
)

var Module = fx.Module("generation.module",
	fx.Provide(
		NewPublisher,
		NewService,
	),
)
