package resolver

import (
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/errs"
	"github.com/lslnet/streamnet/query"
	"github.com/lslnet/streamnet/streaminfo"
)

func TestCheckQueryWrapsInvalidQuery(t *testing.T) {
	require.NoError(t, checkQuery("name='Test'"))
	require.ErrorIs(t, checkQuery("name="), errs.ErrInvalidQuery)
}

func TestBuildFullQueryConjoinsSessionID(t *testing.T) {
	got := buildFullQuery("sid1", "name='Test'")
	require.Equal(t, "session_id='sid1' and name='Test'", got)
}

func TestClassifySortsMulticastBroadcastAndInvalid(t *testing.T) {
	mcastV4, mcastV6, broadcast := classify([]string{
		"224.0.0.183",
		"ff15:0:0:0:0:0:0:1",
		"255.255.255.255",
		"not-an-ip",
	}, 16571)

	require.Len(t, mcastV4, 1)
	require.Equal(t, "224.0.0.183", mcastV4[0].Addr)
	require.Len(t, mcastV6, 1)
	require.Equal(t, "ff15:0:0:0:0:0:0:1", mcastV6[0].Addr)
	require.Len(t, broadcast, 1)
	require.Equal(t, "255.255.255.255", broadcast[0].Addr)
	require.True(t, broadcast[0].Broadcast)
}

func TestExpandPeersEnumeratesPortRange(t *testing.T) {
	eps := expandPeers([]string{"192.168.1.10"}, 16572, 3)
	require.Len(t, eps, 3)
	require.Equal(t, 16572, eps[0].Port)
	require.Equal(t, 16574, eps[2].Port)
	require.Equal(t, FamilyV4, eps[0].Family)
}

func TestNewBroadcastSenderEnablesSOBroadcast(t *testing.T) {
	s, err := newBroadcastSender([]Endpoint{{Addr: "255.255.255.255", Port: 16571, Broadcast: true}})
	require.NoError(t, err)
	defer s.close()

	uc, ok := s.conn.(*net.UDPConn)
	require.True(t, ok)

	rc, err := uc.SyscallConn()
	require.NoError(t, err)

	var got int
	var sockErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		got, sockErr = syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST)
	})
	require.NoError(t, ctrlErr)
	require.NoError(t, sockErr)
	require.NotZero(t, got)
}

func TestResultMapObserveInsertsAndUpdates(t *testing.T) {
	m := newResultMap()
	info := streaminfo.New("Test", "EEG", 1, streaminfo.FormatDouble64, 100, "src", "sid", "host")

	t0 := time.Now()
	m.observe("uid1", info, "10.0.0.1", FamilyV4, t0)
	require.Equal(t, 1, m.len())

	t1 := t0.Add(time.Second)
	m.observe("uid1", info, "10.0.0.99", FamilyV4, t1)

	snap := m.snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, t1, snap["uid1"].LastSeen)
	// first-arrival wins: the second observe must not overwrite AddrV4.
	require.Equal(t, "10.0.0.1", snap["uid1"].AddrV4)
}

func TestResultMapSnapshotPruningDropsStaleEntries(t *testing.T) {
	m := newResultMap()
	info := streaminfo.New("Test", "EEG", 1, streaminfo.FormatDouble64, 100, "src", "sid", "host")

	old := time.Now().Add(-time.Hour)
	m.observe("stale", info, "10.0.0.1", FamilyV4, old)
	m.observe("fresh", info, "10.0.0.2", FamilyV4, time.Now())

	snap := m.snapshotPruning(time.Minute, time.Now())
	require.Len(t, snap, 1)
	_, ok := snap["fresh"]
	require.True(t, ok)
	require.Equal(t, 1, m.len()) // stale entry was deleted from the underlying map
}

// TestResolveOneshotOverLoopbackUnicast drives a full resolve against a
// hand-rolled fake outlet responder over loopback unicast (KnownPeers),
// avoiding any dependency on multicast group membership being available in
// the test environment.
func TestResolveOneshotOverLoopbackUnicast(t *testing.T) {
	info := streaminfo.New("LoopbackStream", "EEG", 4, streaminfo.FormatDouble64, 250, "src1", "sid1", "host1")
	short, err := info.ToShortInfoMessage()
	require.NoError(t, err)

	outletConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer outletConn.Close()

	outletPort := outletConn.LocalAddr().(*net.UDPAddr).Port

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 64*1024)
		_ = outletConn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, from, err := outletConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		q, replyPort, queryID, err := query.ParseRequest(buf[:n])
		if err != nil || !info.MatchesQuery(q) {
			return
		}
		reply := net.UDPAddr{IP: from.IP, Port: replyPort}
		_, _ = outletConn.WriteToUDP(query.EncodeResponse(queryID, short), &reply)
	}()

	cfg := config.Default()
	cfg.SessionID = "sid1"
	cfg.KnownPeers = []string{"127.0.0.1"}
	cfg.BasePort = outletPort
	cfg.PortRange = 1
	cfg.MulticastAddresses = nil // unicast-only for this test
	cfg.UnicastMinRTT = 50 * time.Millisecond

	r := New(cfg)
	results, err := r.ResolveOneshot("*", 1, 2*time.Second, 0)
	require.NoError(t, err)

	<-done

	require.Len(t, results, 1)
	res, ok := results[info.UID()]
	require.True(t, ok)
	require.Equal(t, "LoopbackStream", res.Info.Name)
	require.Equal(t, "127.0.0.1", res.AddrV4)
}

func TestResolveOneshotRejectsInvalidQuery(t *testing.T) {
	cfg := config.Default()
	r := New(cfg)
	_, err := r.ResolveOneshot("name=", 0, time.Second, 0)
	require.Error(t, err)
}

func TestResolveContinuousThenOneshotIsRejected(t *testing.T) {
	cfg := config.Default()
	cfg.MulticastAddresses = nil
	cfg.KnownPeers = nil
	r := New(cfg)

	require.NoError(t, r.ResolveContinuous("*"))
	defer r.Cancel()

	_, err := r.ResolveOneshot("*", 0, time.Second, 0)
	require.Error(t, err)
}
