package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo(LdcI4S)
	require.Equal(t, "ldc.i4.s", info.Name)
	require.Equal(t, ShortInlineI, info.Operand)
	require.Equal(t, LdcI4S, info.Code)
	require.Equal(t, 2, info.Size(0))
}

func TestGetInfoTwoByte(t *testing.T) {
	info := GetInfo(Ceq)
	require.True(t, info.Valid())
	require.Equal(t, "ceq", info.Name)
	require.Equal(t, 2, info.Size(0))
	require.Equal(t, 2, info.Pop)
	require.Equal(t, 1, info.Push)
}

func TestUnknownOpcode(t *testing.T) {
	info := GetInfo(Code(0x24))
	require.False(t, info.Valid())
	require.Equal(t, "op(0x24)", Code(0x24).String())
	require.False(t, GetInfo(Code(0x1234)).Valid())
}

func TestSwitchSize(t *testing.T) {
	require.Equal(t, 1+4+12, GetInfo(Switch).Size(3))
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		code Code
	}{
		{"nop", Nop},
		{"ldarg.0", Ldarg_0},
		{"br.s", BrS},
		{"leave", Leave},
		{"endfinally", Endfinally},
		{"stloc", Stloc},
		{"rethrow", Rethrow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := Lookup(tt.name)
			require.True(t, ok)
			require.Equal(t, tt.code, c)
			require.Equal(t, tt.name, c.String())
		})
	}
	_, ok := Lookup("bogus")
	require.False(t, ok)
}

func TestFlowHelpers(t *testing.T) {
	require.True(t, Br.IsBranch())
	require.True(t, Switch.IsBranch())
	require.False(t, Add.IsBranch())
	require.True(t, Ret.IsUnconditionalTransfer())
	require.True(t, Throw.IsUnconditionalTransfer())
	require.True(t, LeaveS.IsUnconditionalTransfer())
	require.True(t, Endfinally.IsUnconditionalTransfer())
	require.False(t, Brtrue.IsUnconditionalTransfer())
	require.True(t, GetInfo(BrS).IsShortForm())
}
