package sdhx_hand

import (
	"encoding/binary"
	"fmt"
)

// SDHx frame layout:
//
//	0xFF 0xFF id length code params... checksum
//
// length counts code, params and checksum. The checksum is the inverted byte sum
// from id through the last parameter. Requests carry an instruction in code,
// replies carry the controller's error byte.
const (
	frameHeader1 = 0xFF
	frameHeader2 = 0xFF

	// controllerID addresses the finger controller on the bus.
	controllerID = 0x01

	instInit    = 0x10
	instMove    = 0x11
	instGetData = 0x12
	instHalt    = 0x13

	// minFrameLen is header, id, length, code and checksum.
	minFrameLen = 6
	maxParams   = 250

	jointValuesLen   = 6 * 2
	dataReplyLen     = 2 + jointValuesLen
	initParamsLen    = 4 * 2
	maxBufferedBytes = 4096
)

type frame struct {
	id     byte
	code   byte
	params []byte
}

func frameChecksum(body []byte) byte {
	sum := 0
	for _, b := range body {
		sum += int(b)
	}
	return byte(^sum)
}

func encodeFrame(id, code byte, params []byte) []byte {
	packet := make([]byte, 0, minFrameLen+len(params))
	packet = append(packet, frameHeader1, frameHeader2, id, byte(len(params)+2), code)
	packet = append(packet, params...)
	return append(packet, frameChecksum(packet[2:]))
}

func encodeJointValues(v JointValues) []byte {
	buf := make([]byte, jointValuesLen)
	for i := 0; i < NumJoints; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v.PositionCdeg[i]))
		binary.LittleEndian.PutUint16(buf[4+2*i:], uint16(v.VelocityCdegS[i]))
		binary.LittleEndian.PutUint16(buf[8+2*i:], uint16(v.Current100uA[i]))
	}
	return buf
}

func decodeJointValues(buf []byte) (JointValues, error) {
	var v JointValues
	if len(buf) < jointValuesLen {
		return v, fmt.Errorf("joint values need %d bytes, got %d", jointValuesLen, len(buf))
	}
	for i := 0; i < NumJoints; i++ {
		v.PositionCdeg[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
		v.VelocityCdegS[i] = int16(binary.LittleEndian.Uint16(buf[4+2*i:]))
		v.Current100uA[i] = int16(binary.LittleEndian.Uint16(buf[8+2*i:]))
	}
	return v, nil
}

func encodeInitParams(params LinkParams) []byte {
	buf := make([]byte, initParamsLen)
	for i := 0; i < NumJoints; i++ {
		binary.LittleEndian.PutUint16(buf[2*i:], params.MinPWM[i])
		binary.LittleEndian.PutUint16(buf[4+2*i:], params.MaxPWM[i])
	}
	return buf
}

// decodeDataReply splits a GetData reply into the hardware code and joint values.
func decodeDataReply(params []byte) (uint16, JointValues, error) {
	if len(params) < dataReplyLen {
		return 0, JointValues{}, fmt.Errorf("data reply needs %d bytes, got %d", dataReplyLen, len(params))
	}
	rc := binary.LittleEndian.Uint16(params)
	v, err := decodeJointValues(params[2:])
	return rc, v, err
}

// frameDecoder reassembles frames from a byte stream. Garbage and frames with a
// bad checksum are skipped one byte at a time.
type frameDecoder struct {
	buf     []byte
	dropped int
}

func (d *frameDecoder) feed(p []byte) {
	d.buf = append(d.buf, p...)
	if over := len(d.buf) - maxBufferedBytes; over > 0 {
		d.buf = d.buf[over:]
		d.dropped += over
	}
}

func (d *frameDecoder) next() (frame, bool) {
	for {
		start := d.headerIndex()
		if start < 0 {
			// keep a trailing 0xFF, it may begin the next header
			if n := len(d.buf); n > 0 && d.buf[n-1] == frameHeader1 {
				d.dropped += n - 1
				d.buf = d.buf[n-1:]
			} else {
				d.dropped += len(d.buf)
				d.buf = d.buf[:0]
			}
			return frame{}, false
		}
		d.dropped += start
		d.buf = d.buf[start:]
		if len(d.buf) < 4 {
			return frame{}, false
		}
		length := int(d.buf[3])
		if length < 2 || length > maxParams+2 {
			d.skip()
			continue
		}
		total := 4 + length
		if len(d.buf) < total {
			return frame{}, false
		}
		if frameChecksum(d.buf[2:total-1]) != d.buf[total-1] {
			d.skip()
			continue
		}
		f := frame{
			id:     d.buf[2],
			code:   d.buf[4],
			params: append([]byte(nil), d.buf[5:total-1]...),
		}
		d.buf = d.buf[total:]
		return f, true
	}
}

func (d *frameDecoder) headerIndex() int {
	for i := 0; i+1 < len(d.buf); i++ {
		if d.buf[i] == frameHeader1 && d.buf[i+1] == frameHeader2 {
			return i
		}
	}
	return -1
}

func (d *frameDecoder) skip() {
	d.buf = d.buf[1:]
	d.dropped++
}

func (d *frameDecoder) reset() {
	d.buf = d.buf[:0]
	d.dropped = 0
}
