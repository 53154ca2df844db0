package rowguard

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AuthContext is the already-authenticated caller identity every decision
// consumes. It is immutable once bound; resolvers that enrich it work on a
// copy and only ever add to Resolved.
type AuthContext struct {
	UserID          string         `json:"user_id"`
	Roles           []string       `json:"roles,omitempty"`
	TenantID        *string        `json:"tenant_id,omitempty"`
	OrganizationIDs []string       `json:"organization_ids,omitempty"`
	Permissions     []string       `json:"permissions,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	IsSystem        bool           `json:"is_system,omitempty"`

	// Resolved holds resolver-name -> resolver output, attached by
	// resolver.Manager ahead of synchronous policy evaluation.
	Resolved map[string]any `json:"resolved,omitempty"`
}

// Validate checks the auth context is well formed. System contexts carry no
// user identity; everything else requires one.
func (a *AuthContext) Validate() error {
	if a == nil {
		return &ContextValidationError{Field: "auth", Detail: "auth context is nil"}
	}

	if a.UserID == "" && !a.IsSystem {
		return &ContextValidationError{Field: "user_id", Detail: "user id is required"}
	}

	return nil
}

// HasRole reports whether the caller carries the given role.
func (a *AuthContext) HasRole(role string) bool {
	if a == nil {
		return false
	}

	return slices.Contains(a.Roles, role)
}

// HasAnyRole reports whether the caller carries at least one of the roles.
func (a *AuthContext) HasAnyRole(roles ...string) bool {
	if a == nil {
		return false
	}

	return slices.ContainsFunc(roles, a.HasRole)
}

// HasPermission reports whether the caller carries the given permission.
func (a *AuthContext) HasPermission(permission string) bool {
	if a == nil {
		return false
	}

	return slices.Contains(a.Permissions, permission)
}

// Clone returns a deep-enough copy that callers may extend without touching
// the original. Attribute and resolver values themselves are shared; they are
// treated as read-only by convention.
func (a *AuthContext) Clone() *AuthContext {
	if a == nil {
		return nil
	}

	clone := *a
	clone.Roles = slices.Clone(a.Roles)
	clone.OrganizationIDs = slices.Clone(a.OrganizationIDs)
	clone.Permissions = slices.Clone(a.Permissions)
	clone.Attributes = cloneMap(a.Attributes)
	clone.Resolved = cloneMap(a.Resolved)

	return &clone
}

// String returns a short representation for audit logs.
func (a *AuthContext) String() string {
	if a == nil {
		return "anonymous"
	}

	if a.IsSystem {
		return "system"
	}

	if a.TenantID != nil {
		return fmt.Sprintf("user:%s@tenant:%s", a.UserID, *a.TenantID)
	}

	return "user:" + a.UserID
}

// RequestContext carries inbound request metadata. It is consumed only by
// audit enrichment, never by decisions.
type RequestContext struct {
	RequestID string `json:"request_id"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// NewRequestContext builds a request context with a generated request id,
// formatted as rg-{{uuid}}.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		RequestID: "rg-" + uuid.New().String(),
	}
}

// RLSContext is created once per logical unit of work (one inbound request or
// one transaction), lives for its dynamic extent, and is never persisted.
type RLSContext struct {
	Auth    *AuthContext    `json:"auth"`
	Request *RequestContext `json:"request,omitempty"`
	Meta    map[string]any  `json:"meta,omitempty"`

	// CreatedAt marks when the unit of work established the context.
	CreatedAt time.Time `json:"created_at"`
}

// NewRLSContext builds a validated RLSContext for the given caller.
func NewRLSContext(auth *AuthContext) (*RLSContext, error) {
	if err := auth.Validate(); err != nil {
		return nil, err
	}

	return &RLSContext{
		Auth:      auth,
		CreatedAt: time.Now(),
	}, nil
}

// WithRequest attaches request metadata, returning the same context for
// chaining at construction time. Must not be called after binding.
func (rc *RLSContext) WithRequest(req *RequestContext) *RLSContext {
	rc.Request = req
	return rc
}

// WithMeta attaches an opaque meta entry at construction time.
func (rc *RLSContext) WithMeta(key string, value any) *RLSContext {
	if rc.Meta == nil {
		rc.Meta = map[string]any{}
	}

	rc.Meta[key] = value

	return rc
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
