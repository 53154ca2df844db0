package rowguard

import (
	"testing"

	"github.com/samber/lo"
)

func TestAuthContextValidate(t *testing.T) {
	tests := []struct {
		name    string
		auth    *AuthContext
		wantErr bool
	}{
		{name: "user", auth: &AuthContext{UserID: "alice"}, wantErr: false},
		{name: "system without user", auth: &AuthContext{IsSystem: true}, wantErr: false},
		{name: "missing user id", auth: &AuthContext{}, wantErr: true},
		{name: "nil", auth: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.auth.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthContextRoles(t *testing.T) {
	auth := &AuthContext{UserID: "alice", Roles: []string{"user", "editor"}}

	if !auth.HasRole("editor") {
		t.Error("HasRole should find a carried role")
	}

	if auth.HasRole("admin") {
		t.Error("HasRole should not find an absent role")
	}

	if !auth.HasAnyRole("admin", "editor") {
		t.Error("HasAnyRole should match any carried role")
	}

	if auth.HasAnyRole() {
		t.Error("HasAnyRole with no candidates should be false")
	}

	var nilAuth *AuthContext
	if nilAuth.HasRole("user") || nilAuth.HasAnyRole("user") {
		t.Error("nil auth carries no roles")
	}
}

func TestAuthContextClone(t *testing.T) {
	auth := &AuthContext{
		UserID:     "alice",
		Roles:      []string{"user"},
		TenantID:   lo.ToPtr("t1"),
		Attributes: map[string]any{"region": "eu"},
		Resolved:   map[string]any{"orgs": []string{"o1"}},
	}

	clone := auth.Clone()
	clone.Roles = append(clone.Roles, "admin")
	clone.Attributes["region"] = "us"
	clone.Resolved["teams"] = []string{"t"}

	if len(auth.Roles) != 1 {
		t.Errorf("original roles mutated: %v", auth.Roles)
	}

	if auth.Attributes["region"] != "eu" {
		t.Errorf("original attributes mutated: %v", auth.Attributes)
	}

	if _, ok := auth.Resolved["teams"]; ok {
		t.Error("original resolved map mutated")
	}
}

func TestAuthContextString(t *testing.T) {
	tests := []struct {
		name string
		auth *AuthContext
		want string
	}{
		{name: "nil", auth: nil, want: "anonymous"},
		{name: "system", auth: &AuthContext{IsSystem: true}, want: "system"},
		{name: "tenantless", auth: &AuthContext{UserID: "alice"}, want: "user:alice"},
		{name: "tenant", auth: &AuthContext{UserID: "alice", TenantID: lo.ToPtr("t1")}, want: "user:alice@tenant:t1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auth.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewRequestContext(t *testing.T) {
	req := NewRequestContext()
	if len(req.RequestID) <= len("rg-") {
		t.Errorf("RequestID should be generated, got %q", req.RequestID)
	}

	if req.RequestID[:3] != "rg-" {
		t.Errorf("RequestID should carry the rg- prefix, got %q", req.RequestID)
	}
}
