package guard

import (
	"go.uber.org/fx"

	"github.com/rowguard/rowguard/audit"
	"github.com/rowguard/rowguard/policy"
)

var Module = fx.Module("guard",
	fx.Provide(func(registry *policy.Registry, auditor *audit.Logger) *Guard {
		return New(registry, WithAudit(auditor))
	}),
)
