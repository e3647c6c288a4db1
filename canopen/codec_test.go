package canopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqr/casterbase/canbus"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0x7F, 0xFF, 0x1234, 0xFFFF, 0x12345678, 0xFFFFFFFF}
	for _, node := range []NodeID{1, 2, 0x7F} {
		for _, ct := range []CommandType{Command, Query} {
			for _, obj := range Objects() {
				for _, length := range []uint8{1, 2, 4} {
					for _, v := range values {
						f, err := Encode(node, ct, obj, 2, v, length)
						require.NoError(t, err)
						assert.False(t, f.Extended)
						assert.False(t, f.RTR)
						assert.Equal(t, headerLen+length, f.Len)

						msg, err := Decode(f)
						require.NoError(t, err)
						assert.Equal(t, node, msg.Node)
						assert.Equal(t, obj, msg.Object)
						assert.Equal(t, uint8(2), msg.SubIndex)
						assert.Equal(t, length, msg.Len)
						mask := uint32(1)<<(8*uint(length)) - 1
						assert.Equal(t, v&mask, msg.Value)
						got, ok := msg.CommandType()
						require.True(t, ok)
						assert.Equal(t, ct, got)
					}
				}
			}
		}
	}
}

func TestEncodeSetVelocityLeft(t *testing.T) {
	f, err := Encode(0x01, Command, SetVelocity, 0x01, 1000, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x101), f.ID)
	assert.Equal(t, []byte{0x02, 0x20, 0x01, 0xE8, 0x03, 0x00, 0x00}, f.Payload())

	msg, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, SetVelocity, msg.Object)
	assert.Equal(t, uint8(0x01), msg.SubIndex)
	assert.Equal(t, uint32(1000), msg.Value)
}

func TestEncodeQueryCarriesZeroData(t *testing.T) {
	f, err := Encode(0x01, Query, ReadBLMotorRPM, 0x02, 0xFFFF, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x201), f.ID)
	// Query data is whatever the caller passes; Client passes zero.
	assert.Equal(t, []byte{0x0A, 0x21, 0x02, 0xFF, 0xFF}, f.Payload())
}

func TestIdentifierSeparatesTraffic(t *testing.T) {
	cmd, err := Encode(5, Command, SetVelocity, 1, 0, 4)
	require.NoError(t, err)
	qry, err := Encode(5, Query, ReadAbsBLCounter, 1, 0, 4)
	require.NoError(t, err)
	rep, err := EncodeReply(5, ReadAbsBLCounter, 1, 3, 4)
	require.NoError(t, err)
	hb, err := Heartbeat{Node: 5, State: StateOperational}.MarshalCANFrame()
	require.NoError(t, err)

	ids := map[uint32]bool{cmd.ID: true, qry.ID: true, rep.ID: true, hb.ID: true}
	assert.Len(t, ids, 4)
	assert.True(t, ReplyFilter(5)(rep))
	assert.False(t, ReplyFilter(5)(qry))
	assert.True(t, RequestFilter(5)(cmd))
	assert.True(t, RequestFilter(5)(qry))
	assert.False(t, RequestFilter(5)(rep))
	assert.True(t, HeartbeatFilter(5)(hb))
	assert.True(t, AnyReplyFilter()(rep))
	assert.True(t, AnyHeartbeatFilter()(hb))
}

func TestEncodeRejectsBadInput(t *testing.T) {
	for _, n := range []uint8{0, 3, 5, 8} {
		_, err := Encode(1, Command, SetVelocity, 1, 0, n)
		assert.ErrorIs(t, err, ErrDataLength, "length %d", n)
		_, err = EncodeReply(1, ReadAbsBLCounter, 1, 0, n)
		assert.ErrorIs(t, err, ErrDataLength, "reply length %d", n)
	}
	_, err := Encode(0, Command, SetVelocity, 1, 0, 4)
	assert.Error(t, err)
	_, err = Encode(128, Command, SetVelocity, 1, 0, 4)
	assert.Error(t, err)
	_, err = Encode(1, CommandType(0x03), SetVelocity, 1, 0, 4)
	assert.Error(t, err)
}

func TestDecodeFailures(t *testing.T) {
	cases := map[string]canbus.Frame{
		"short payload":  canbus.MustFrame(0x581, []byte{0x05, 0x21}),
		"empty payload":  canbus.MustFrame(0x581, nil),
		"extended":       {ID: 0x581, Extended: true, Len: 7},
		"rtr":            {ID: 0x581, RTR: true, Len: 7},
		"too long":       canbus.MustFrame(0x581, []byte{0x05, 0x21, 0x01, 1, 2, 3, 4, 5}),
		"foreign range":  canbus.MustFrame(0x181, []byte{0x05, 0x21, 0x01, 0}),
		"low 0x500 half": canbus.MustFrame(0x501, []byte{0x05, 0x21, 0x01, 0}),
		"heartbeat":      canbus.MustFrame(0x701, []byte{0x05, 0, 0, 0}),
		"node zero":      canbus.MustFrame(0x580, []byte{0x05, 0x21, 0x01, 0}),
	}
	for name, f := range cases {
		_, err := Decode(f)
		assert.ErrorIs(t, err, ErrDecode, name)
	}
}

func TestDecodeHeaderOnly(t *testing.T) {
	msg, err := Decode(canbus.MustFrame(0x582, []byte{0x11, 0x21, 0x00}))
	require.NoError(t, err)
	assert.Equal(t, ReadStatusFlags, msg.Object)
	assert.Equal(t, NodeID(2), msg.Node)
	assert.Zero(t, msg.Len)
	assert.Zero(t, msg.Value)
	assert.True(t, msg.IsReply())
	_, ok := msg.CommandType()
	assert.False(t, ok)
}

func TestMessageInt32(t *testing.T) {
	f, err := EncodeReply(1, ReadBLMotorRPM, 1, 0xFA24, 2) // -1500
	require.NoError(t, err)
	msg, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, int32(-1500), msg.Int32())

	neg := int32(-3)
	f, err = EncodeReply(1, ReadAbsBLCounter, 1, uint32(neg), 4)
	require.NoError(t, err)
	msg, err = Decode(f)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), msg.Int32())

	var back Message
	require.NoError(t, back.UnmarshalCANFrame(f))
	again, err := back.MarshalCANFrame()
	require.NoError(t, err)
	assert.Equal(t, f, again)
}
