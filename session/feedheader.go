package session

import (
	"encoding/binary"
	"math"
)

// Sample tag bytes identify what follows a sample's leading byte on the
// wire: a transmitted 8-byte timestamp, a deduced (omitted, reuse last)
// timestamp, or no timestamp at all.
const (
	tagNoTimestamp          byte = 0
	tagDeducedTimestamp     byte = 4
	tagTransmittedTimestamp byte = 8
)

// writeFeedHeader sends two priming samples immediately after the OK
// response: a transmitted-timestamp sample (tag 8) carrying test pattern 4,
// followed by a deduced-timestamp sample (tag 4) carrying test pattern 2,
// so a client can verify it decoded the header's negotiated byte order and
// value size before the live pump begins.
func (s *Session) writeFeedHeader(n negotiated) error {
	firstPrimer := testPattern(s.deps.Info.ChannelCount, 4)
	secondPrimer := testPattern(s.deps.Info.ChannelCount, 2)

	if err := s.writeRawSample(n, tagTransmittedTimestamp, 0, firstPrimer); err != nil {
		return err
	}
	if err := s.writeRawSample(n, tagDeducedTimestamp, 0, secondPrimer); err != nil {
		return err
	}
	return s.conn.Flush()
}

func testPattern(channelCount int, value float64) []float64 {
	values := make([]float64, channelCount)
	for i := range values {
		values[i] = value
	}
	return values
}

// writeRawSample encodes one sample: tag byte, optional 8-byte timestamp,
// then each channel value as an 8-byte IEEE-754 float64 in n.byteOrder
// (the order sent in the Byte-Order header). The channel format's own value
// size is not applied, and neither reverseByteOrder nor suppressSubnormals
// changes the encoding.
func (s *Session) writeRawSample(n negotiated, tag byte, timestamp float64, values []float64) error {
	if _, err := s.conn.Write([]byte{tag}); err != nil {
		return err
	}
	if tag == tagTransmittedTimestamp {
		if err := s.writeFloat64(n, timestamp); err != nil {
			return err
		}
	}

	for _, v := range values {
		if err := s.writeFloat64(n, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writeFloat64(n negotiated, v float64) error {
	var buf [8]byte
	bits := math.Float64bits(v)
	if byteOrderIsBig(n) {
		binary.BigEndian.PutUint64(buf[:], bits)
	} else {
		binary.LittleEndian.PutUint64(buf[:], bits)
	}
	_, err := s.conn.Write(buf[:])
	return err
}

func byteOrderIsBig(n negotiated) bool {
	return n.byteOrder == 4321
}
