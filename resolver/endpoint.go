package resolver

import (
	"fmt"
	"net"
)

// Family distinguishes IPv4 from IPv6 targets and result-map address slots.
type Family int

// The two address families the resolver deals in.
const (
	FamilyV4 Family = iota
	FamilyV6
)

// Endpoint is an (address, port, family) tuple; a Broadcast endpoint is
// treated as an ordinary unicast target sent via a socket with the
// broadcast flag enabled.
type Endpoint struct {
	Addr      string
	Port      int
	Family    Family
	Broadcast bool
}

func (e Endpoint) udpAddr() *net.UDPAddr {
	ip := net.ParseIP(e.Addr)
	return &net.UDPAddr{IP: ip, Port: e.Port}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// classify sorts a mixed list of configured targets into multicast (per
// family) and broadcast/unicast groups, per the specification's broadcast
// classifier: an address in a multicast range routes to the
// family-appropriate multicast sender, otherwise it is a broadcast/unicast
// target.
func classify(addrs []string, port int) (mcastV4, mcastV6 []Endpoint, broadcast []Endpoint) {
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		ep := Endpoint{Addr: a, Port: port}
		switch {
		case ip.To4() != nil && ip.IsMulticast():
			ep.Family = FamilyV4
			mcastV4 = append(mcastV4, ep)
		case ip.To4() == nil && ip.IsMulticast():
			ep.Family = FamilyV6
			mcastV6 = append(mcastV6, ep)
		default:
			ep.Broadcast = true
			ep.Family = FamilyV4
			broadcast = append(broadcast, ep)
		}
	}
	return
}

// expandPeers turns a list of known-peer hostnames/addresses and a base
// port/range into the unicast target list, one endpoint per (peer, port)
// pair in the range.
func expandPeers(peers []string, basePort, portRange int) []Endpoint {
	var out []Endpoint
	for _, peer := range peers {
		for p := basePort; p < basePort+portRange; p++ {
			family := FamilyV4
			if ip := net.ParseIP(peer); ip != nil && ip.To4() == nil {
				family = FamilyV6
			}
			out = append(out, Endpoint{Addr: peer, Port: p, Family: family})
		}
	}
	return out
}
