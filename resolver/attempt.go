package resolver

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/query"
	"github.com/lslnet/streamnet/streaminfo"
)

const scratchBufSize = 64 * 1024

// params are the runtime knobs for one attempt, per specification §4.2.
type params struct {
	unicastWait    time.Duration
	multicastWait  time.Duration
	cancelAfter    time.Duration // zero means "forever"
	minimum        int
	minimumTime    time.Duration
	validateReply  bool
}

// sender owns one outbound UDP socket and the fixed target list it sends
// every wave to.
type sender struct {
	conn    net.PacketConn
	targets []Endpoint
}

func (s *sender) close() {
	if s != nil && s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *sender) burst(payload []byte, log *zap.Logger) {
	if s == nil {
		return
	}
	for _, t := range s.targets {
		if _, err := s.conn.WriteTo(payload, t.udpAddr()); err != nil {
			log.Debug("query send failed", zap.String("target", t.String()), zap.Error(err))
		}
	}
}

// attempt is one running query: it owns its send/receive sockets, timers,
// and result map, and produces a live result set until it is done
// (cancelled, timed out, or satisfied the minimum-results threshold).
//
// Per the design notes' structured-concurrency guidance, the attempt is
// driven by a single goroutine (run) that owns every mutable field below
// except resultMap, which has its own short-critical-section mutex so
// Results() can read it from any goroutine.
type attempt struct {
	cfg    *config.Config
	query  string
	queryID string
	p      params
	log    *zap.Logger

	results *resultMap

	recvConn net.PacketConn

	unicastSender *sender
	mcastV4       *sender
	mcastV6       *sender
	broadcast     *sender

	cancelled int32
	cancelFn  context.CancelFunc
	ctx       context.Context

	done      chan struct{}
	doneOnce  sync.Once

	resolveAtLeastUntil time.Time
	cancelDeadline      time.Time
}

func newAttempt(cfg *config.Config, unicastTargets, mcastTargetsV4, mcastTargetsV6, broadcastTargets []Endpoint, q string, p params, log *zap.Logger) (*attempt, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &attempt{
		cfg:      cfg,
		query:    q,
		queryID:  query.ID(q),
		p:        p,
		log:      log,
		results:  newResultMap(),
		ctx:      ctx,
		cancelFn: cancel,
		done:     make(chan struct{}),
	}

	if err := a.setupSockets(unicastTargets, mcastTargetsV4, mcastTargetsV6, broadcastTargets); err != nil {
		cancel()
		return nil, err
	}

	if p.cancelAfter > 0 {
		a.cancelDeadline = time.Now().Add(p.cancelAfter)
	}
	if p.minimum > 0 {
		a.resolveAtLeastUntil = time.Now().Add(p.minimumTime)
	}

	return a, nil
}

// setupSockets implements §4.2's socket setup: a single receive socket
// bound within the configured port range (dual-stack per AllowIPv4/
// AllowIPv6), one sending socket per multicast family with group joins,
// loopback enabled and TTL/hop-limit set, an optional broadcast sender, and
// an optional unicast sender.
func (a *attempt) setupSockets(unicastTargets, mcastV4Targets, mcastV6Targets, broadcastTargets []Endpoint) error {
	recvConn, err := bindReceiveSocket(a.cfg, a.log)
	if err != nil {
		return err
	}
	a.recvConn = recvConn

	if len(mcastV4Targets) > 0 && a.cfg.AllowIPv4 {
		if s, err := newMulticastSenderV4(mcastV4Targets, a.cfg, a.log); err == nil {
			a.mcastV4 = s
		} else {
			a.log.Warn("could not open ipv4 multicast sender", zap.Error(err))
		}
	}
	// Both families get multicast senders when their allow flag is set: the
	// source only iterated family index 0, silently disabling ipv6
	// multicast sends; that is treated as unintended here (spec §9).
	if len(mcastV6Targets) > 0 && a.cfg.AllowIPv6 {
		if s, err := newMulticastSenderV6(mcastV6Targets, a.cfg, a.log); err == nil {
			a.mcastV6 = s
		} else {
			a.log.Warn("could not open ipv6 multicast sender", zap.Error(err))
		}
	}

	if len(broadcastTargets) > 0 {
		if s, err := newBroadcastSender(broadcastTargets); err == nil {
			a.broadcast = s
		} else {
			a.log.Warn("could not open broadcast sender", zap.Error(err))
		}
	}

	if len(unicastTargets) > 0 {
		conn, err := net.ListenPacket("udp", ":0")
		if err == nil {
			a.unicastSender = &sender{conn: conn, targets: unicastTargets}
		} else {
			a.log.Warn("could not open unicast sender", zap.Error(err))
		}
	}

	return nil
}

func bindReceiveSocket(cfg *config.Config, log *zap.Logger) (net.PacketConn, error) {
	network := "udp"
	switch {
	case cfg.AllowIPv6 && !cfg.AllowIPv4:
		network = "udp6"
	case cfg.AllowIPv4 && !cfg.AllowIPv6:
		network = "udp4"
	case !cfg.AllowIPv4 && !cfg.AllowIPv6:
		return nil, errConfigNoFamily
	}

	for p := cfg.BasePort; p < cfg.BasePort+cfg.PortRange; p++ {
		conn, err := net.ListenPacket(network, net.JoinHostPort("", strconv.Itoa(p)))
		if err == nil {
			return conn, nil
		}
	}

	// all in-range ports taken: fall back to an ephemeral port with a warning.
	conn, err := net.ListenPacket(network, ":0")
	if err != nil {
		if network == "udp" {
			if conn, err = net.ListenPacket("udp4", ":0"); err == nil {
				return conn, nil
			}
		}
		return nil, err
	}
	log.Warn("receive port range exhausted, bound ephemeral port", zap.String("addr", conn.LocalAddr().String()))
	return conn, nil
}

func newMulticastSenderV4(targets []Endpoint, cfg *config.Config, log *zap.Logger) (*sender, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	_ = pc.SetMulticastTTL(cfg.MulticastTTL)
	_ = pc.SetMulticastLoopback(true)

	joined := 0
	for _, t := range targets {
		grp := &net.UDPAddr{IP: net.ParseIP(t.Addr)}
		if err := pc.JoinGroup(nil, grp); err != nil {
			log.Debug("ipv4 multicast join failed", zap.String("group", t.Addr), zap.Error(err))
			continue
		}
		joined++
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, errNoGroupsJoined
	}
	return &sender{conn: conn, targets: targets}, nil
}

func newMulticastSenderV6(targets []Endpoint, cfg *config.Config, log *zap.Logger) (*sender, error) {
	conn, err := net.ListenPacket("udp6", ":0")
	if err != nil {
		return nil, err
	}
	pc := ipv6.NewPacketConn(conn)
	_ = pc.SetMulticastHopLimit(cfg.MulticastTTL)
	_ = pc.SetMulticastLoopback(true)

	joined := 0
	for _, t := range targets {
		grp := &net.UDPAddr{IP: net.ParseIP(t.Addr)}
		if err := pc.JoinGroup(nil, grp); err != nil {
			log.Debug("ipv6 multicast join failed", zap.String("group", t.Addr), zap.Error(err))
			continue
		}
		joined++
	}
	if joined == 0 {
		_ = conn.Close()
		return nil, errNoGroupsJoined
	}
	return &sender{conn: conn, targets: targets}, nil
}

func newBroadcastSender(targets []Endpoint) (*sender, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}

	uc, ok := conn.(*net.UDPConn)
	if !ok {
		_ = conn.Close()
		return nil, errors.New("resolver: broadcast sender requires a *net.UDPConn")
	}

	rc, err := uc.SyscallConn()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	var sockErr error
	if err := rc.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if sockErr != nil {
		_ = conn.Close()
		return nil, sockErr
	}

	return &sender{conn: conn, targets: targets}, nil
}

// run is the attempt's single owning goroutine: it fires the immediate
// query burst, arms the wave and cancel timers, and drives the receive
// loop until done() is true. The caller blocks on <-a.done (one-shot runs
// this inline; continuous mode runs it on a dedicated goroutine).
func (a *attempt) run() {
	defer a.cancelFn()
	defer a.closeSockets()
	defer a.doneOnce.Do(func() { close(a.done) })

	reqPayload := query.EncodeRequest(a.query, a.recvLocalPort())

	a.fireBurst(reqPayload)

	var mcastTicker, ucastTicker *time.Ticker
	var mcastCh, ucastCh <-chan time.Time
	if a.mcastAvailable() {
		offset := time.Duration(0)
		if a.unicastSender != nil {
			offset = a.cfg.UnicastMinRTT
		}
		time.Sleep(offset) // interleave multicast wave after the unicast one
		mcastTicker = time.NewTicker(a.p.multicastWait)
		mcastCh = mcastTicker.C
		defer mcastTicker.Stop()
	}
	if a.unicastSender != nil {
		ucastTicker = time.NewTicker(a.p.unicastWait)
		ucastCh = ucastTicker.C
		defer ucastTicker.Stop()
	}

	var cancelCh <-chan time.Time
	if a.p.cancelAfter > 0 {
		t := time.NewTimer(a.p.cancelAfter)
		defer t.Stop()
		cancelCh = t.C
	}

	recvCh := make(chan receivedDatagram, 4)
	go a.receiveLoop(recvCh)

	for {
		if a.isDone() {
			return
		}
		select {
		case <-a.ctx.Done():
			return
		case <-cancelCh:
			atomic.StoreInt32(&a.cancelled, 1)
			return
		case <-mcastCh:
			a.fireMulticastBurst(reqPayload)
		case <-ucastCh:
			a.unicastSender.burst(reqPayload, a.log)
		case dg, ok := <-recvCh:
			if !ok {
				return
			}
			a.handleDatagram(dg)
		}
	}
}

func (a *attempt) mcastAvailable() bool {
	return a.mcastV4 != nil || a.mcastV6 != nil || a.broadcast != nil
}

func (a *attempt) fireBurst(payload []byte) {
	if a.unicastSender != nil {
		a.unicastSender.burst(payload, a.log)
	}
	a.fireMulticastBurst(payload)
}

func (a *attempt) fireMulticastBurst(payload []byte) {
	a.mcastV4.burst(payload, a.log)
	a.mcastV6.burst(payload, a.log)
	a.broadcast.burst(payload, a.log)
}

func (a *attempt) recvLocalPort() int {
	if addr, ok := a.recvConn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

type receivedDatagram struct {
	data   []byte
	family Family
	from   net.Addr
}

// receiveLoop posts one read at a time into a scratch buffer, matching
// §4.2's "post one async receive at a time" rule: this goroutine's own
// for-loop provides that serialization for free.
func (a *attempt) receiveLoop(out chan<- receivedDatagram) {
	defer close(out)
	buf := make([]byte, scratchBufSize)
	for {
		n, from, err := a.recvConn.ReadFrom(buf)
		if err != nil {
			return
		}
		if a.isDone() {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		family := FamilyV4
		if udpAddr, ok := from.(*net.UDPAddr); ok && udpAddr.IP.To4() == nil {
			family = FamilyV6
		}
		select {
		case out <- receivedDatagram{data: cp, family: family, from: from}:
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *attempt) handleDatagram(dg receivedDatagram) {
	queryID, shortInfo, err := query.ParseResponse(dg.data)
	if err != nil {
		a.log.Debug("dropping malformed response datagram", zap.Error(err))
		return
	}
	if queryID != a.queryID {
		return // reply to a stale/foreign query
	}

	info, err := streaminfo.FromShortInfoMessage(shortInfo)
	if err != nil {
		a.log.Debug("dropping unparsable shortinfo block", zap.Error(err))
		return
	}

	if a.p.validateReply && !info.MatchesQuery(a.query) {
		a.log.Debug("dropping reply that fails defensive re-match", zap.String("uid", info.UID()))
		return
	}

	srcAddr := dg.from.String()
	if udpAddr, ok := dg.from.(*net.UDPAddr); ok {
		srcAddr = udpAddr.IP.String()
	}
	a.results.observe(info.UID(), info, srcAddr, dg.family, time.Now())
}

// isDone implements the done predicate from §4.2:
//
//	done ≡ cancelled
//	     ∨ now > cancel_deadline
//	     ∨ (minimum > 0 ∧ |results| >= minimum ∧ now >= resolve_atleast_until)
func (a *attempt) isDone() bool {
	if atomic.LoadInt32(&a.cancelled) != 0 {
		return true
	}
	select {
	case <-a.ctx.Done():
		return true
	default:
	}
	now := time.Now()
	if !a.cancelDeadline.IsZero() && now.After(a.cancelDeadline) {
		return true
	}
	if a.p.minimum > 0 && a.results.len() >= a.p.minimum && !now.Before(a.resolveAtLeastUntil) {
		return true
	}
	return false
}

// cancel posts cancellation onto the attempt: sets the cancelled flag,
// cancels the context (which stops timers and the receive loop), and
// closes every socket. Safe to call from any goroutine, idempotent.
func (a *attempt) cancel() {
	atomic.StoreInt32(&a.cancelled, 1)
	a.cancelFn()
}

func (a *attempt) closeSockets() {
	if a.recvConn != nil {
		_ = a.recvConn.Close()
	}
	a.unicastSender.close()
	a.mcastV4.close()
	a.mcastV6.close()
	a.broadcast.close()
}

// wait blocks until the attempt is done.
func (a *attempt) wait() {
	<-a.done
}
