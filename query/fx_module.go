package query

import (
	"go.uber.org/fx"

	"github.com/rowguard/rowguard/audit"
	"github.com/rowguard/rowguard/policy"
)

var Module = fx.Module("query",
	fx.Provide(func(registry *policy.Registry, auditor *audit.Logger) *Transformer {
		return NewTransformer(registry, WithAudit(auditor))
	}),
)
