// Package rowguard implements a row-level authorization engine for
// relational data access. It decides, per operation and per row, whether a
// caller may read, create, update, or delete, and computes the implicit
// filter conditions a read must carry so unauthorized rows never leave the
// store.
//
// Core concepts:
//
//   - RLSContext: the ambient bundle of caller identity, roles, tenant and
//     request metadata consumed by every decision. Bound to a context.Context
//     via WithRLSContext / Run and read back with FromContext.
//
//   - Policy: a declarative per-table rule of type filter, allow, deny or
//     validate. Compiled into a read-only Registry by the policy package.
//
//   - Decisions: reads go through query.Transformer, which appends predicates
//     to a read plan; writes and defense-in-depth read checks go through
//     guard.Guard; both optionally report to audit.Logger.
//
//   - Resolvers: derived context data (e.g. organization membership) is
//     pre-computed asynchronously by resolver.Manager before synchronous
//     policy evaluation.
//
// Usage rules:
//
//  1. Bind exactly one RLSContext per logical unit of work; never reuse a
//     binding across requests.
//  2. Background tasks must declare a system context via NewSystemContext
//     with a stable reason string for audit aggregation.
//  3. Treat a compiled Registry as immutable; build it once at startup.
package rowguard
