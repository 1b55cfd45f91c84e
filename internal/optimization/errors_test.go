package optimization

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same kind", NewError(KindInvalidInput, "bad"), ErrInvalidInput, true},
		{"different kind", NewError(KindInvalidInput, "bad"), ErrDispatchTimeout, false},
		{"wrapped by fmt", fmt.Errorf("outer: %w", NewError(KindSearchSpaceTooLarge, "big")), ErrSearchSpaceTooLarge, true},
		{"wraps context error", WrapError(context.DeadlineExceeded, KindDispatchTimeout, "slow"), context.DeadlineExceeded, true},
		{"plain error", errors.New("x"), ErrExecutorUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestErrorString(t *testing.T) {
	err := NewErrorf(KindInvalidInput, "expected %d got %d", 2, 3).
		WithComponent("grid").WithOperation("NewSpace")
	assert.Equal(t, "grid: NewSpace: expected 2 got 3 (invalid_input)", err.Error())

	wrapped := WrapError(errors.New("boom"), KindExecutorUnavailable, "dispatch failed")
	assert.Equal(t, "dispatch failed (executor_unavailable): boom", wrapped.Error())
}

func TestWrapErrorNil(t *testing.T) {
	assert.Nil(t, WrapError(nil, KindInvalidInput, "x"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindCanceled, KindOf(fmt.Errorf("ctx: %w", NewError(KindCanceled, "stop"))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))

	e, ok := IsOptimizationError(NewError(KindDispatchTimeout, "late"))
	assert.True(t, ok)
	assert.Equal(t, KindDispatchTimeout, e.Kind)
}
