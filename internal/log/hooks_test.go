package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rowguard/rowguard"
)

func TestRLSFieldsHook(t *testing.T) {
	hook := HookFunc(rlsFields)

	t.Run("with request id", func(t *testing.T) {
		rc, err := rowguard.NewRLSContext(&rowguard.AuthContext{UserID: "u-1"})
		assert.NoError(t, err)
		rc.WithRequest(&rowguard.RequestContext{RequestID: "rg-test-request-id"})

		ctx := rowguard.WithRLSContext(context.Background(), rc)
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 2)
		assert.Equal(t, "request_id", fields[0].Key)
		assert.Equal(t, "rg-test-request-id", fields[0].String)
		assert.Equal(t, "principal", fields[1].Key)
		assert.Equal(t, "user:u-1", fields[1].String)
	})

	t.Run("with tenant", func(t *testing.T) {
		tenant := "t-9"

		rc, err := rowguard.NewRLSContext(&rowguard.AuthContext{UserID: "u-1", TenantID: &tenant})
		assert.NoError(t, err)

		ctx := rowguard.WithRLSContext(context.Background(), rc)
		fields := hook.Apply(ctx, "test message")
		assert.Len(t, fields, 2)
		assert.Equal(t, "principal", fields[0].Key)
		assert.Equal(t, "tenant_id", fields[1].Key)
		assert.Equal(t, "t-9", fields[1].String)
	})

	t.Run("with context that has no binding", func(t *testing.T) {
		fields := hook.Apply(context.Background(), "test message")
		assert.Len(t, fields, 0)
	})

	t.Run("with nil context", func(t *testing.T) {
		fields := hook.Apply(nil, "test message")
		assert.Len(t, fields, 0)
	})
}
