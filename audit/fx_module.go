package audit

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(func(cfg Config, adapter Adapter) (*Logger, error) {
		return New(cfg, adapter)
	}),
	fx.Invoke(func(lc fx.Lifecycle, logger *Logger) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return logger.Close(ctx)
			},
		})
	}),
)
