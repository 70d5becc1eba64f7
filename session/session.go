// Package session implements the per-connection client session state
// machine: command read -> query/feed negotiation -> header send -> sample
// pump, per specification §4.5. The package is adapted from the teacher's
// connection/session package (same read-command -> negotiate -> pump
// shape, same "session owned jointly by its handler chain and a transfer
// goroutine" ownership model) but the wire protocol, negotiation rules, and
// pump semantics are this system's, not MQTT's.
package session

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lslnet/streamnet/cstream"
	"github.com/lslnet/streamnet/errs"
	"github.com/lslnet/streamnet/sendbuffer"
	"github.com/lslnet/streamnet/streaminfo"
)

const (
	cmdShortInfo          = "LSL:shortinfo"
	cmdFullInfo           = "LSL:fullinfo"
	cmdStreamFeed         = "LSL:streamfeed"
	legacyProtocolVersion = 100
)

// Deps are the collaborators a Session needs from its owning server: the
// outlet's advertised info, its pre-serialized shortinfo/fullinfo blocks,
// the send buffer samples are drained from, and server-side negotiation
// defaults.
type Deps struct {
	Info               *streaminfo.Info
	ShortInfoMessage   string
	FullInfoMessage    string
	Buffer             *sendbuffer.Buffer
	ChunkSize          int // server default for max_samples_per_chunk
	MaxBuffered        int // server default consumer queue depth
	UseProtocolVersion int // cap for version negotiation
	OurByteOrder       int // 1234 little-endian, 4321 big-endian
	OurHasIEEE754      bool
	OurEndianPerfNs    float64 // time to convert one value, for the speed comparison
}

// Session is one accepted connection's lifecycle. It is registered with the
// owning server's in-flight table on construction and removed from it on
// any terminal path, by the server-supplied onDone callback.
type Session struct {
	id   string
	conn *cstream.Conn
	deps Deps
	log  *zap.Logger

	onDone func(*Session)

	consumer *sendbuffer.Consumer

	ctx    context.Context
	cancel context.CancelFunc
}

// New wraps an accepted connection as a session. Call Run to drive it.
func New(id string, conn *cstream.Conn, deps Deps, log *zap.Logger, onDone func(*Session)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{id: id, conn: conn, deps: deps, log: log, onDone: onDone, ctx: ctx, cancel: cancel}
}

// ID returns the session's opaque identifier, used as the in-flight table key.
func (s *Session) ID() string { return s.id }

// Cancel aborts the session's connection from any goroutine, and unblocks
// a pump parked in PopSample; used by the server's shutdown sequence to
// interrupt a blocked pump or negotiation.
func (s *Session) Cancel() {
	s.conn.Cancel()
	s.cancel()
}

// Run drives the full state machine to completion; it always ends by
// calling onDone exactly once and cancelling the connection.
func (s *Session) Run() {
	defer s.finish()

	cmd, err := s.conn.ReadLine()
	if err != nil {
		return
	}
	cmd = strings.TrimSpace(cmd)

	switch {
	case cmd == cmdShortInfo:
		s.handleShortInfo()
	case cmd == cmdFullInfo:
		s.handleFullInfo()
	case cmd == cmdStreamFeed || strings.HasPrefix(cmd, cmdStreamFeed+"/"):
		s.handleStreamFeed(cmd)
	default:
		// otherwise -> CLOSED
	}
}

func (s *Session) finish() {
	if s.consumer != nil {
		s.deps.Buffer.Remove(s.consumer)
	}
	s.conn.Cancel()
	s.cancel()
	if s.onDone != nil {
		s.onDone(s)
	}
}

// handleShortInfo implements READ_QUERY -> WRITE_SHORTINFO | CLOSED.
func (s *Session) handleShortInfo() {
	q, err := s.conn.ReadLine()
	if err != nil {
		return
	}
	if !s.deps.Info.MatchesQuery(q) {
		return
	}
	_, _ = s.conn.Write([]byte(s.deps.ShortInfoMessage))
	_ = s.conn.Flush()
}

// handleFullInfo implements WRITE_FULLINFO -> CLOSED.
func (s *Session) handleFullInfo() {
	_, _ = s.conn.Write([]byte(s.deps.FullInfoMessage))
	_ = s.conn.Flush()
}

// handleStreamFeed implements READ_FEEDPARAMS -> negotiate ->
// WRITE_FEEDHEADER -> PUMP (or immediate close if max_buffered <= 0).
func (s *Session) handleStreamFeed(cmdLine string) {
	protocolVersion := legacyProtocolVersion
	requestedUID := ""
	if idx := strings.IndexByte(cmdLine, '/'); idx >= 0 {
		rest := cmdLine[idx+1:]
		fields := strings.Fields(rest)
		if len(fields) >= 1 {
			if v, err := strconv.Atoi(fields[0]); err == nil {
				protocolVersion = v
			}
		}
		if len(fields) >= 2 {
			requestedUID = fields[1]
		}
	}

	req, err := readFeedParams(s.conn)
	if err != nil {
		return
	}

	neg, negErr := negotiate(protocolVersion, requestedUID, req, s.deps)
	if negErr != nil {
		s.writeStatusLine(neg.responseVersion, negErr)
		return
	}

	if err := s.writeOKResponse(neg); err != nil {
		return
	}
	if err := s.writeFeedHeader(neg); err != nil {
		return
	}

	maxBuffered := neg.maxBuffered
	if maxBuffered <= 0 {
		return // §4.5: max_buffered <= 0 closes cleanly right after the header.
	}

	s.pump(neg, maxBuffered)
}

func (s *Session) writeStatusLine(version int, err error) error {
	var line string
	switch err {
	case errs.ErrVersionUnsupported:
		line = statusLine(version, 505, "Version not supported")
	case errs.ErrUIDMismatch:
		line = statusLine(version, 404, "Not found")
	default:
		line = statusLine(version, 404, "Not found")
	}
	if _, werr := s.conn.Write([]byte(line)); werr != nil {
		return werr
	}
	return s.conn.Flush()
}

func statusLine(version, code int, text string) string {
	return "LSL/" + strconv.Itoa(version) + " " + strconv.Itoa(code) + " " + text + "\r\n\r\n"
}
