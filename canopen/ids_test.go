package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCOBIDHelpers(t *testing.T) {
	assert.Equal(t, uint32(0x101), COBID(FCCommand, 1))
	assert.Equal(t, uint32(0x202), COBID(FCQuery, 2))
	assert.Equal(t, uint32(0x5FF), COBID(FCReply, 0x7F))
	assert.Equal(t, uint32(0x701), COBID(FCHeartbeat, 1))
	assert.Equal(t, FCCommand, Command.FunctionCode())
	assert.Equal(t, FCQuery, Query.FunctionCode())

	for _, tc := range []struct {
		id   uint32
		fc   FunctionCode
		node NodeID
	}{
		{0x101, FCCommand, 1},
		{0x27F, FCQuery, 0x7F},
		{0x581, FCReply, 1},
		{0x5FF, FCReply, 0x7F},
		{0x702, FCHeartbeat, 2},
	} {
		fc, node, err := ParseCOBID(tc.id)
		require.NoError(t, err, "0x%03X", tc.id)
		assert.Equal(t, tc.fc, fc, "0x%03X", tc.id)
		assert.Equal(t, tc.node, node, "0x%03X", tc.id)
	}

	for _, id := range []uint32{0x000, 0x080, 0x181, 0x501, 0x57F, 0x601, 0x100, 0x800} {
		_, _, err := ParseCOBID(id)
		assert.Error(t, err, "0x%03X", id)
	}
}

func TestNodeIDValidate(t *testing.T) {
	assert.Error(t, NodeID(0).Validate())
	assert.NoError(t, NodeID(1).Validate())
	assert.NoError(t, NodeID(127).Validate())
	assert.Error(t, NodeID(128).Validate())
}

func TestObjectTable(t *testing.T) {
	objs := Objects()
	require.Len(t, objs, 7)
	assert.Equal(t, SetVelocity, objs[0])
	assert.Equal(t, ReadMotorStatusFlags, objs[6])

	for _, o := range objs {
		info, ok := o.Info()
		require.True(t, ok)
		parsed, err := ParseObject(info.Name)
		require.NoError(t, err)
		assert.Equal(t, o, parsed)
		assert.Equal(t, info.Name, o.String())
		assert.Contains(t, []uint8{1, 2, 4}, info.Width)
	}

	o, err := ParseObject("  BL_Motor_RPM ")
	require.NoError(t, err)
	assert.Equal(t, ReadBLMotorRPM, o)
	_, err = ParseObject("torque")
	assert.Error(t, err)
	assert.Equal(t, "Object(0x1234)", Object(0x1234).String())

	info, _ := SetVelocity.Info()
	assert.Equal(t, AccessWrite, info.Access)
	info, _ = ReadFaultFlags.Info()
	assert.Equal(t, AccessRead, info.Access)
	assert.False(t, info.PerChannel)
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, int32(-1), ReadBLMotorRPM.SignExtend(0xFFFF, 2))
	assert.Equal(t, int32(0x7FFF), ReadBLMotorRPM.SignExtend(0x7FFF, 2))
	assert.Equal(t, int32(-2), ReadAbsBLCounter.SignExtend(0xFFFFFFFE, 4))
	// Unsigned registers keep the raw value.
	assert.Equal(t, int32(0xFF), ReadFaultFlags.SignExtend(0xFF, 1))
}
