package resolver

import (
	"go.uber.org/fx"
)

var Module = fx.Module("resolver",
	fx.Provide(func(cfg Config) (*Manager, error) {
		return NewManager(cfg)
	}),
)
