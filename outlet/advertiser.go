// Package outlet supplements the specification's distilled scope with the
// producer-side half of UDP discovery: original_source's tcp_server.cpp
// only shows the TCP-side "LSL:shortinfo" handler, but the resolver's
// multicast/broadcast/unicast query waves (resolve_attempt_udp.cpp) need
// something on a LAN to answer them. A complete implementation of this
// system needs that responder, so this package provides it: an Advertiser
// joins the same multicast groups the resolver queries, and answers
// matching shortinfo request datagrams on its receive socket.
package outlet

import (
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/logging"
	"github.com/lslnet/streamnet/query"
	"github.com/lslnet/streamnet/streaminfo"
)

// Advertiser answers UDP discovery queries on behalf of one outlet's
// stream info.
type Advertiser struct {
	cfg  *config.Config
	info *streaminfo.Info
	log  *zap.Logger

	conn net.PacketConn

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// New binds a receive socket on the configured multicast port (or an
// ephemeral port if that one cannot be bound), joins every
// configured multicast group on whichever families are allowed, and
// returns an Advertiser ready to Serve.
func New(cfg *config.Config, info *streaminfo.Info) (*Advertiser, error) {
	network := "udp"
	switch {
	case cfg.AllowIPv6 && !cfg.AllowIPv4:
		network = "udp6"
	case cfg.AllowIPv4 && !cfg.AllowIPv6:
		network = "udp4"
	}

	conn, err := net.ListenPacket(network, net.JoinHostPort("", strconv.Itoa(cfg.MulticastPort)))
	if err != nil {
		conn, err = net.ListenPacket(network, ":0")
		if err != nil {
			return nil, err
		}
	}

	a := &Advertiser{cfg: cfg, info: info, conn: conn, log: logging.Named("outlet.advertiser")}
	a.joinGroups()
	return a, nil
}

func (a *Advertiser) joinGroups() {
	for _, addr := range a.cfg.MulticastAddresses {
		ip := net.ParseIP(addr)
		if ip == nil || !ip.IsMulticast() {
			continue
		}
		if ip.To4() != nil {
			if pc := ipv4.NewPacketConn(a.conn); pc != nil {
				_ = pc.JoinGroup(nil, &net.UDPAddr{IP: ip})
			}
		} else {
			if pc := ipv6.NewPacketConn(a.conn); pc != nil {
				_ = pc.JoinGroup(nil, &net.UDPAddr{IP: ip})
			}
		}
	}
}

// Serve runs the responder loop until Close is called.
func (a *Advertiser) Serve() {
	a.wg.Add(1)
	defer a.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := a.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		a.handleRequest(buf[:n], from)
	}
}

func (a *Advertiser) handleRequest(data []byte, from net.Addr) {
	q, replyPort, queryID, err := query.ParseRequest(data)
	if err != nil {
		return
	}
	if !a.info.MatchesQuery(q) {
		return
	}

	short, err := a.info.ToShortInfoMessage()
	if err != nil {
		a.log.Warn("failed to render shortinfo", zap.Error(err))
		return
	}

	host, _, err := net.SplitHostPort(from.String())
	if err != nil {
		return
	}
	replyAddr := net.JoinHostPort(host, strconv.Itoa(replyPort))
	udpAddr, err := net.ResolveUDPAddr("udp", replyAddr)
	if err != nil {
		return
	}

	_, _ = a.conn.WriteTo(query.EncodeResponse(queryID, short), udpAddr)
}

// Close stops the responder and releases its socket. Idempotent.
func (a *Advertiser) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	_ = a.conn.Close()
	a.wg.Wait()
}
