package panicerr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	sentinel := errors.New("plain")

	tests := []struct {
		name    string
		fn      func() error
		wantErr string
	}{
		{name: "ok", fn: func() error { return nil }},
		{name: "error", fn: func() error { return sentinel }, wantErr: "plain"},
		{name: "panic", fn: func() error { panic("kaboom") }, wantErr: "kaboom"},
		{name: "nil map write", fn: func() error {
			var m map[string]int
			m["x"] = 1
			return nil
		}, wantErr: "assignment to entry in nil map"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Call(tt.fn)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSafeContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	err := SafeContext(func(ctx context.Context) error {
		if ctx.Value(key{}) != "v" {
			return errors.New("context lost")
		}
		panic("after check")
	})(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after check")
	assert.NoError(t, Safe(func() error { return nil })())
}
