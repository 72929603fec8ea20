package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr error
	}{
		{name: "valid", id: "org-123"},
		{name: "uuid", id: "b3c2a7f0-8f4e-4f2b-9f3d-1a2b3c4d5e6f"},
		{name: "empty", id: "", wantErr: ErrInvalidTenant},
		{name: "whitespace only", id: "   ", wantErr: ErrInvalidTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWith(context.Background(), Info{TenantID: "org-1"})
	info, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org-1", info.TenantID)
}

func TestFromContextMissingFailsClosed(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestCheckContext(t *testing.T) {
	t.Run("matching scope", func(t *testing.T) {
		ctx := ContextWith(context.Background(), Info{TenantID: "org-1"})
		assert.NoError(t, CheckContext(ctx, "org-1"))
	})

	t.Run("no scope", func(t *testing.T) {
		assert.NoError(t, CheckContext(context.Background(), "org-1"))
	})

	t.Run("conflicting scope", func(t *testing.T) {
		ctx := ContextWith(context.Background(), Info{TenantID: "org-1"})
		assert.ErrorIs(t, CheckContext(ctx, "org-2"), ErrTenantMismatch)
	})
}
