package sdhx_hand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncoding(t *testing.T) {
	t.Run("layout and checksum", func(t *testing.T) {
		pkt := encodeFrame(controllerID, instGetData, nil)
		assert.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x02, 0x12, 0xEA}, pkt)
	})

	t.Run("joint values are little endian", func(t *testing.T) {
		v := JointValues{
			PositionCdeg:  [NumJoints]int16{573, -1},
			VelocityCdegS: [NumJoints]int16{1000, 0},
			Current100uA:  [NumJoints]int16{2120, 1400},
		}
		buf := encodeJointValues(v)
		require.Len(t, buf, jointValuesLen)
		assert.Equal(t, []byte{0x3D, 0x02, 0xFF, 0xFF}, buf[:4])

		got, err := decodeJointValues(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	})

	t.Run("data reply", func(t *testing.T) {
		v := JointValues{PositionCdeg: [NumJoints]int16{100, 200}}
		params := append([]byte{0x03, 0x00}, encodeJointValues(v)...)
		rc, got, err := decodeDataReply(params)
		require.NoError(t, err)
		assert.Equal(t, uint16(3), rc)
		assert.Equal(t, v, got)

		_, _, err = decodeDataReply(params[:5])
		assert.Error(t, err)
	})

	t.Run("init params", func(t *testing.T) {
		buf := encodeInitParams(LinkParams{MinPWM: [NumJoints]uint16{10, 20}, MaxPWM: [NumJoints]uint16{300, 400}})
		assert.Equal(t, []byte{10, 0, 20, 0, 0x2C, 0x01, 0x90, 0x01}, buf)
	})
}

func TestFrameDecoder(t *testing.T) {
	move := encodeFrame(controllerID, instMove, encodeJointValues(JointValues{}))
	ack := encodeFrame(controllerID, 0, nil)

	t.Run("whole frames", func(t *testing.T) {
		var d frameDecoder
		d.feed(append(append([]byte{}, move...), ack...))

		f, ok := d.next()
		require.True(t, ok)
		assert.Equal(t, byte(instMove), f.code)
		assert.Len(t, f.params, jointValuesLen)

		f, ok = d.next()
		require.True(t, ok)
		assert.True(t, isAck(f))

		_, ok = d.next()
		assert.False(t, ok)
	})

	t.Run("split across reads", func(t *testing.T) {
		var d frameDecoder
		for i := 0; i < len(move)-1; i++ {
			d.feed(move[i : i+1])
			_, ok := d.next()
			require.False(t, ok, "byte %d", i)
		}
		d.feed(move[len(move)-1:])
		f, ok := d.next()
		require.True(t, ok)
		assert.Equal(t, byte(controllerID), f.id)
	})

	t.Run("skips garbage", func(t *testing.T) {
		var d frameDecoder
		d.feed([]byte{0x00, 0x42, 0xFF})
		_, ok := d.next()
		assert.False(t, ok)
		d.feed(ack[1:])
		f, ok := d.next()
		require.True(t, ok)
		assert.True(t, isAck(f))
		assert.Equal(t, 2, d.dropped)
	})

	t.Run("skips bad checksum", func(t *testing.T) {
		bad := append([]byte{}, ack...)
		bad[len(bad)-1] ^= 0x55
		var d frameDecoder
		d.feed(append(bad, ack...))
		f, ok := d.next()
		require.True(t, ok)
		assert.True(t, isAck(f))
		_, ok = d.next()
		assert.False(t, ok)
	})

	t.Run("rejects impossible length", func(t *testing.T) {
		var d frameDecoder
		d.feed([]byte{0xFF, 0xFF, 0x01, 0x01, 0x00})
		d.feed(ack)
		f, ok := d.next()
		require.True(t, ok)
		assert.True(t, isAck(f))
	})
}
