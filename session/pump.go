package session

import (
	"github.com/lslnet/streamnet/sendbuffer"
)

// pump implements §4.5's PUMP state: register a consumer on the send
// buffer, then loop popping samples and writing them to the wire until a
// write error or the session's context is cancelled (by Cancel(), from the
// server's shutdown sequence or a peer disconnect detected elsewhere).
// Samples accumulate into a chunk and are flushed to the wire when a
// sample carries Pushthrough or the chunk reaches maxSamplesPerChunk;
// maxSamplesPerChunk<=0 means unbounded (explicit flush only on
// Pushthrough; otherwise bytes reach the wire when the connection's write
// buffer fills, and anything still buffered at teardown is not flushed).
func (s *Session) pump(n negotiated, maxBuffered int) {
	s.consumer = s.deps.Buffer.NewConsumer(maxBuffered)

	inChunk := 0
	for {
		sample, isWake, err := s.consumer.PopSample(s.ctx)
		if err != nil {
			return
		}
		if isWake {
			if s.conn.Cancelled() {
				return
			}
			continue
		}

		if err := s.writeDataSample(n, sample); err != nil {
			return
		}
		inChunk++

		flush := sample.Pushthrough || (n.maxSamplesPerChunk > 0 && inChunk >= n.maxSamplesPerChunk)
		if flush {
			if err := s.conn.Flush(); err != nil {
				return
			}
			inChunk = 0
		}
	}
}

func (s *Session) writeDataSample(n negotiated, sample sendbuffer.Sample) error {
	tag := tagTransmittedTimestamp
	if sample.Timestamp == 0 {
		tag = tagNoTimestamp
	}
	return s.writeRawSample(n, tag, sample.Timestamp, sample.Values)
}
