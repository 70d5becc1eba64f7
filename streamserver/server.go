// Package streamserver implements the outlet's TCP server: one or two
// listening acceptors (v4/v6), an in-flight session table, and the
// shutdown sequence that tears both down. Adapted from the teacher's
// transport package (transport/connTCP.go's listener-plus-acceptor-loop
// shape) and connection/receiver.go's troian/easygo/netpoll hang-up
// detection, generalized from MQTT's per-packet receive loop to this
// system's blocking per-session goroutine model: netpoll here only
// watches for a peer hang-up while a session sits blocked in the sample
// pump, so a dead TCP peer is noticed without waiting on a failed write.
package streamserver

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/troian/easygo/netpoll"
	"go.uber.org/zap"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/cstream"
	"github.com/lslnet/streamnet/logging"
	"github.com/lslnet/streamnet/sendbuffer"
	"github.com/lslnet/streamnet/session"
	"github.com/lslnet/streamnet/streaminfo"
)

// maxBindRetries bounds the acceptor's port-range probing, mirroring the
// resolver's receive-socket binding but capped lower since a TCP listener
// failing to bind is rarer and each attempt is cheap to retry.
const maxBindRetries = 10

// Server accepts TCP connections for one outlet and drives each through
// the session state machine.
type Server struct {
	cfg    *config.Config
	info   *streaminfo.Info
	buffer *sendbuffer.Buffer
	log    *zap.Logger

	shortInfo string
	fullInfo  string

	listeners []net.Listener
	poll      netpoll.EventPoll

	sessions sync.Map // session id -> *session.Session
	wg       sync.WaitGroup

	closing int32
}

// New binds the configured listeners (v4, v6, or both per cfg) and
// pre-renders the shortinfo/fullinfo blocks once, up front.
func New(cfg *config.Config, info *streaminfo.Info, buffer *sendbuffer.Buffer) (*Server, error) {
	log := logging.Named("streamserver")

	short, err := info.ToShortInfoMessage()
	if err != nil {
		return nil, err
	}
	full, err := info.ToFullInfoMessage()
	if err != nil {
		return nil, err
	}

	poll, err := netpoll.New(nil)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		info:      info,
		buffer:    buffer,
		log:       log,
		shortInfo: short,
		fullInfo:  full,
		poll:      poll,
	}

	if cfg.AllowIPv4 {
		ln, port, err := bindListener("tcp4", cfg.BasePort, cfg.PortRange, log)
		if err != nil {
			return nil, err
		}
		info.V4DataPort = port
		s.listeners = append(s.listeners, ln)
	}
	if cfg.AllowIPv6 {
		ln, port, err := bindListener("tcp6", cfg.BasePort, cfg.PortRange, log)
		if err != nil {
			s.closeListeners()
			return nil, err
		}
		info.V6DataPort = port
		s.listeners = append(s.listeners, ln)
	}

	// data ports just changed: re-render with the bound ports included.
	if short, err = info.ToShortInfoMessage(); err == nil {
		s.shortInfo = short
	}
	if full, err = info.ToFullInfoMessage(); err == nil {
		s.fullInfo = full
	}

	return s, nil
}

func bindListener(network string, basePort, portRange int, log *zap.Logger) (net.Listener, int, error) {
	tries := portRange
	if tries <= 0 || tries > maxBindRetries {
		tries = maxBindRetries
	}

	for i := 0; i < tries; i++ {
		port := basePort + i
		ln, err := net.Listen(network, net.JoinHostPort("", strconv.Itoa(port)))
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
	}

	ln, err := net.Listen(network, ":0")
	if err != nil {
		return nil, 0, err
	}
	addr := ln.Addr().(*net.TCPAddr)
	log.Warn("listen port range exhausted, bound ephemeral port", zap.String("network", network), zap.Int("port", addr.Port))
	return ln, addr.Port, nil
}

// Serve starts one accept loop per bound listener; it returns immediately,
// the loops run on their own goroutines until Shutdown closes the
// listeners.
func (s *Server) Serve() {
	for _, ln := range s.listeners {
		s.wg.Add(1)
		go s.acceptLoop(ln)
	}
}

// Listening reports whether at least one acceptor is still accepting,
// suitable for wiring into a readiness check.
func (s *Server) Listening() bool {
	return atomic.LoadInt32(&s.closing) == 0 && len(s.listeners) > 0
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.handleAccepted(conn)
	}
}

func (s *Server) handleAccepted(raw net.Conn) {
	if s.cfg.SocketSendBufferSize > 0 || s.cfg.SocketReceiveBufferSize > 0 {
		if tc, ok := raw.(*net.TCPConn); ok {
			if s.cfg.SocketSendBufferSize > 0 {
				_ = tc.SetWriteBuffer(s.cfg.SocketSendBufferSize)
			}
			if s.cfg.SocketReceiveBufferSize > 0 {
				_ = tc.SetReadBuffer(s.cfg.SocketReceiveBufferSize)
			}
		}
	}

	conn := cstream.New(raw)
	id := uuid.NewString()

	deps := session.Deps{
		Info:               s.info,
		ShortInfoMessage:   s.shortInfo,
		FullInfoMessage:    s.fullInfo,
		Buffer:             s.buffer,
		ChunkSize:          s.cfg.ChunkSize,
		MaxBuffered:        s.cfg.MaxBuffered,
		UseProtocolVersion: s.cfg.UseProtocolVersion,
		OurByteOrder:       nativeByteOrder(),
		OurHasIEEE754:      true,
		OurEndianPerfNs:    measureEndianPerformance(),
	}

	sess := session.New(id, conn, deps, s.log.Named("session"), s.onSessionDone)
	s.sessions.Store(id, sess)

	s.watchHangup(raw, sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run()
	}()
}

// watchHangup registers raw's file descriptor with the event poller in
// one-shot read-ready mode; a hang-up/error event cancels the session
// immediately rather than waiting for its next blocking read or write to
// fail, matching receiver.go's rxRun mask check.
func (s *Server) watchHangup(raw net.Conn, sess *session.Session) {
	desc, err := netpoll.HandleReadOnce(raw)
	if err != nil {
		return
	}

	const hangupMask = netpoll.EventHup | netpoll.EventReadHup | netpoll.EventWriteHup | netpoll.EventErr | netpoll.EventPollClosed

	_ = s.poll.Start(desc, func(ev netpoll.Event) {
		if ev&hangupMask != 0 {
			sess.Cancel()
			return
		}
		// A plain readable event here means the peer sent bytes the
		// session's own blocking ReadLine will pick up; just re-arm.
		_ = s.poll.Resume(desc)
	})
}

func (s *Server) onSessionDone(sess *session.Session) {
	s.sessions.Delete(sess.ID())
}

// Shutdown closes every listener, cancels every in-flight session, pushes
// a wakeup ping so any session blocked in the pump observes the
// cancellation, and waits for all acceptor and session goroutines to
// exit.
func (s *Server) Shutdown() {
	if !atomic.CompareAndSwapInt32(&s.closing, 0, 1) {
		return
	}

	s.closeListeners()

	s.sessions.Range(func(_, v interface{}) bool {
		v.(*session.Session).Cancel()
		return true
	})
	s.buffer.WakeAll()

	s.wg.Wait()
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
}
