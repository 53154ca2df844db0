package rowguard

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRunBindsAndRestores(t *testing.T) {
	ctx := t.Context()

	outer, err := NewRLSContext(&AuthContext{UserID: "alice"})
	if err != nil {
		t.Fatalf("NewRLSContext failed: %v", err)
	}

	inner, err := NewRLSContext(&AuthContext{UserID: "bob"})
	if err != nil {
		t.Fatalf("NewRLSContext failed: %v", err)
	}

	err = Run(ctx, outer, func(ctx context.Context) error {
		got := MustFromContext(ctx)
		if got != outer {
			t.Error("outer binding should be current inside outer Run")
		}

		// Nested binding, exiting by failure, must leave the outer
		// binding in place.
		nestedErr := Run(ctx, inner, func(ctx context.Context) error {
			if MustFromContext(ctx) != inner {
				t.Error("inner binding should be current inside nested Run")
			}

			return errors.New("boom")
		})
		if nestedErr == nil {
			t.Error("nested Run should propagate the body error")
		}

		if MustFromContext(ctx) != outer {
			t.Error("outer binding should be restored after nested Run exits")
		}

		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := FromContext(ctx); ok {
		t.Error("no binding should remain on the original context")
	}
}

func TestRunConcurrentIsolation(t *testing.T) {
	alice, err := NewRLSContext(&AuthContext{UserID: "alice"})
	if err != nil {
		t.Fatalf("NewRLSContext failed: %v", err)
	}

	bob, err := NewRLSContext(&AuthContext{UserID: "bob"})
	if err != nil {
		t.Fatalf("NewRLSContext failed: %v", err)
	}

	// Hold both bodies open at the same time so the two bindings overlap;
	// each must only ever observe its own.
	bothInside := make(chan struct{})

	var entered, done sync.WaitGroup

	entered.Add(2)
	done.Add(2)

	for _, rc := range []*RLSContext{alice, bob} {
		go func() {
			defer done.Done()

			err := Run(t.Context(), rc, func(ctx context.Context) error {
				entered.Done()
				<-bothInside

				if got := MustFromContext(ctx); got != rc {
					t.Errorf("binding for %q observed %q", rc.Auth.UserID, got.Auth.UserID)
				}

				return nil
			})
			if err != nil {
				t.Errorf("Run failed: %v", err)
			}
		}()
	}

	entered.Wait()
	close(bothInside)
	done.Wait()
}

func TestRunValidatesAuth(t *testing.T) {
	rc := &RLSContext{Auth: &AuthContext{}}

	err := Run(t.Context(), rc, func(ctx context.Context) error {
		t.Error("body should not run with an invalid auth context")
		return nil
	})

	var cve *ContextValidationError
	if !errors.As(err, &cve) {
		t.Fatalf("expected ContextValidationError, got %v", err)
	}

	if cve.Field != "user_id" {
		t.Errorf("Field = %q, want %q", cve.Field, "user_id")
	}
}

func TestFromContextEmpty(t *testing.T) {
	if _, ok := FromContext(t.Context()); ok {
		t.Error("FromContext should report false on an unbound context")
	}

	if _, ok := AuthFromContext(t.Context()); ok {
		t.Error("AuthFromContext should report false on an unbound context")
	}
}

func TestNewUserContext(t *testing.T) {
	ctx, err := NewUserContext(t.Context(), &AuthContext{UserID: "alice"})
	if err != nil {
		t.Fatalf("NewUserContext failed: %v", err)
	}

	auth, ok := AuthFromContext(ctx)
	if !ok {
		t.Fatal("auth context should be bound")
	}

	if auth.UserID != "alice" {
		t.Errorf("UserID = %q, want %q", auth.UserID, "alice")
	}

	if _, err := NewUserContext(t.Context(), &AuthContext{}); err == nil {
		t.Error("NewUserContext should reject an invalid auth context")
	}
}

func TestNewSystemContext(t *testing.T) {
	var observed []BypassRecord

	SetBypassObserver(func(ctx context.Context, record BypassRecord) {
		observed = append(observed, record)
	})
	defer SetBypassObserver(nil)

	ctx := NewSystemContext(t.Context(), "gc-sweep")

	rc := MustFromContext(ctx)
	if !rc.Auth.IsSystem {
		t.Error("system context should carry IsSystem")
	}

	if rc.Meta["bypass_reason"] != "gc-sweep" {
		t.Errorf("bypass_reason = %v, want %q", rc.Meta["bypass_reason"], "gc-sweep")
	}

	if len(observed) != 1 || observed[0].Reason != "gc-sweep" {
		t.Errorf("observer should see one bypass with the reason, got %+v", observed)
	}
}

func TestRunAsSystem(t *testing.T) {
	outer, _ := NewRLSContext(&AuthContext{UserID: "alice"})
	ctx := WithRLSContext(t.Context(), outer)

	result, err := RunAsSystem(ctx, "migration-backfill", func(ctx context.Context) (string, error) {
		if !MustFromContext(ctx).Auth.IsSystem {
			t.Error("bypass should be active inside the closure")
		}

		return "done", nil
	})
	if err != nil {
		t.Fatalf("RunAsSystem failed: %v", err)
	}

	if result != "done" {
		t.Errorf("result = %q, want %q", result, "done")
	}

	// The bypass must not leak past the closure.
	if MustFromContext(ctx).Auth.IsSystem {
		t.Error("bypass should not be active outside the closure")
	}
}
