package errz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWarningString(t *testing.T) {
	w := NewWarning(W1001, 4, "target IL_%04x is outside the body", 0x40)
	require.Equal(t, "IL_0004: W1001 invalid branch target: target IL_0040 is outside the body", w.String())

	w = NewWarning(W2001, NoOffset, "gave up")
	require.Equal(t, "W2001 statement rerun limit reached: gave up", w.String())
}

func TestCodeCategory(t *testing.T) {
	require.Equal(t, "reader", W1004.Category())
	require.Equal(t, "transform", W2002.Category())
	require.Equal(t, "internal", E3001.Category())
	require.True(t, W1007.IsWarning())
	require.False(t, E3002.IsWarning())
	require.Equal(t, "unknown diagnostic", Code("X9").Description())
}

func TestMethodErrorWrapping(t *testing.T) {
	inner := &InvariantError{Pass: "LoopDetection", Err: errors.New("branch leaves container")}
	err := &MethodError{Method: "App.Program.Main", Err: inner}
	require.True(t, IsInvariant(err))
	require.False(t, IsCancellation(err))
	require.Contains(t, err.Error(), "App.Program.Main")
	require.Contains(t, err.Error(), "LoopDetection")
}

func TestIsCancellation(t *testing.T) {
	require.True(t, IsCancellation(context.Canceled))
	require.True(t, IsCancellation(fmt.Errorf("pass: %w", context.DeadlineExceeded)))
	require.False(t, IsCancellation(errors.New("boom")))
}
