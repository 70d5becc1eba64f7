package session

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lslnet/streamnet/cstream"
	"github.com/lslnet/streamnet/errs"
	"github.com/lslnet/streamnet/sendbuffer"
	"github.com/lslnet/streamnet/streaminfo"
)

func testInfo(uid string) *streaminfo.Info {
	i := streaminfo.New("Test", "EEG", 2, streaminfo.FormatDouble64, 100, "src", "sid", "host")
	i.UIDValue = uid
	return i
}

func testDeps(info *streaminfo.Info) Deps {
	short, _ := info.ToShortInfoMessage()
	full, _ := info.ToFullInfoMessage()
	return Deps{
		Info:               info,
		ShortInfoMessage:   short,
		FullInfoMessage:    full,
		Buffer:             sendbuffer.New(),
		ChunkSize:          0,
		MaxBuffered:        16,
		UseProtocolVersion: 110,
		OurByteOrder:       1234,
		OurHasIEEE754:      true,
		OurEndianPerfNs:    1.0,
	}
}

func TestNegotiateRejectsUnsupportedVersion(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	_, err := negotiate(200, "", feedParams{protocolVersion: 200}, deps)
	require.ErrorIs(t, err, errs.ErrVersionUnsupported)
}

func TestNegotiateRejectsUIDMismatch(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	_, err := negotiate(110, "uid-other", feedParams{protocolVersion: 110}, deps)
	require.ErrorIs(t, err, errs.ErrUIDMismatch)
}

func TestNegotiateAcceptsMatchingUID(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	n, err := negotiate(110, "uid1", feedParams{protocolVersion: 110, valueSize: 8, hasIEEE754: true}, deps)
	require.NoError(t, err)
	require.Equal(t, 110, n.dataProtocolVersion)
}

func TestNegotiateUsesMinimumDataProtocolVersion(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	n, err := negotiate(110, "", feedParams{protocolVersion: 105, valueSize: 8, hasIEEE754: true}, deps)
	require.NoError(t, err)
	require.Equal(t, 105, n.dataProtocolVersion)
}

func TestNegotiateDowngradesToLegacyOnSizeMismatch(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	n, err := negotiate(110, "", feedParams{protocolVersion: 110, valueSize: 4, hasIEEE754: true}, deps)
	require.NoError(t, err)
	require.Equal(t, legacyProtocolVersion, n.dataProtocolVersion)
}

func TestNegotiateDowngradesToLegacyWithoutIEEE754(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	n, err := negotiate(110, "", feedParams{protocolVersion: 110, valueSize: 8, hasIEEE754: false}, deps)
	require.NoError(t, err)
	require.Equal(t, legacyProtocolVersion, n.dataProtocolVersion)
}

func TestNegotiateEnablesByteSwapWhenWeAreFaster(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	deps.OurEndianPerfNs = 1.0
	req := feedParams{
		protocolVersion: 110,
		valueSize:       8,
		hasIEEE754:      true,
		nativeByteOrder: 4321, // differs from deps.OurByteOrder (1234)
		endianPerfNs:    100.0,
	}
	n, err := negotiate(110, "", req, deps)
	require.NoError(t, err)
	require.True(t, n.reverseByteOrder)
}

func TestNegotiateSkipsByteSwapWhenWeAreSlower(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	deps.OurEndianPerfNs = 1000.0
	req := feedParams{
		protocolVersion: 110,
		valueSize:       8,
		hasIEEE754:      true,
		nativeByteOrder: 4321,
		endianPerfNs:    1.0,
	}
	n, err := negotiate(110, "", req, deps)
	require.NoError(t, err)
	require.False(t, n.reverseByteOrder)
}

func TestNegotiateFallsBackToServerDefaultsWhenUnset(t *testing.T) {
	deps := testDeps(testInfo("uid1"))
	n, err := negotiate(110, "", feedParams{protocolVersion: 110, valueSize: 8, hasIEEE754: true}, deps)
	require.NoError(t, err)
	require.Equal(t, deps.MaxBuffered, n.maxBuffered)
	require.Equal(t, deps.ChunkSize, n.maxSamplesPerChunk)
}

// TestWriteFeedHeaderSendsTestPatternsFourThenTwo exercises §4.5's priming
// handshake: the first sample must carry test pattern 4, the second test
// pattern 2, so a client can tell the two priming samples apart.
func TestWriteFeedHeaderSendsTestPatternsFourThenTwo(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	info := testInfo("uid1")
	info.ChannelCount = 2
	deps := testDeps(info)

	sess := New("s1", cstream.New(server), deps, zap.NewNop(), nil)
	n := negotiated{responseVersion: 110, dataProtocolVersion: 110, byteOrder: 1234}

	errCh := make(chan error, 1)
	go func() { errCh <- sess.writeFeedHeader(n) }()

	buf := make([]byte, 64)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < len(buf) {
		m, err := client.Read(buf[total:])
		require.NoError(t, err)
		total += m
		if total >= 1+8+16+1+16 { // tag+ts+values, then tag+values
			break
		}
	}
	require.NoError(t, <-errCh)

	// First sample: tag (transmitted timestamp) + 8-byte timestamp + 2 values.
	require.Equal(t, tagTransmittedTimestamp, buf[0])
	firstValues := buf[1+8 : 1+8+16]
	require.Equal(t, 4.0, decodeLE(firstValues[0:8]))
	require.Equal(t, 4.0, decodeLE(firstValues[8:16]))

	// Second sample: tag (deduced timestamp, no timestamp bytes) + 2 values.
	secondStart := 1 + 8 + 16
	require.Equal(t, tagDeducedTimestamp, buf[secondStart])
	secondValues := buf[secondStart+1 : secondStart+1+16]
	require.Equal(t, 2.0, decodeLE(secondValues[0:8]))
	require.Equal(t, 2.0, decodeLE(secondValues[8:16]))
}

func decodeLE(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func TestReadFeedParamsParsesKnownKeysAndComments(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := cstream.New(server)
	go func() {
		_, _ = client.Write([]byte(
			"native-byte-order: 4321 ; comment\r\n" +
				"value-size: 8\r\n" +
				"max-buffer-length: 360\r\n" +
				"\r\n"))
	}()

	p, err := readFeedParams(conn)
	require.NoError(t, err)
	require.Equal(t, 4321, p.nativeByteOrder)
	require.Equal(t, 8, p.valueSize)
	require.Equal(t, 360, p.maxBufferLength)
}

// TestSessionStreamFeedClosesCleanlyWhenMaxBufferedIsZero exercises §4.5's
// rule that a negotiated max_buffered <= 0 ends the session right after the
// feed header with no pump and no error.
func TestSessionStreamFeedClosesCleanlyWhenMaxBufferedIsZero(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	info := testInfo("uid1")
	deps := testDeps(info)
	deps.MaxBuffered = 0

	sess := New("s1", cstream.New(server), deps, zap.NewNop(), nil)

	doneCh := make(chan struct{})
	go func() {
		sess.Run()
		close(doneCh)
	}()

	_, _ = client.Write([]byte("LSL:streamfeed/110\r\nmax-buffer-length: 0\r\n\r\n"))

	reader := make([]byte, 4096)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := client.Read(reader)
	resp := string(reader[:n])
	require.True(t, strings.HasPrefix(resp, "LSL/110 200 OK"))

	// net.Pipe is unbuffered: drain the feed header so the session's flush
	// can complete and Run can return.
	go func() { _, _ = io.Copy(io.Discard, client) }()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after max_buffered<=0 header")
	}
}

func TestSessionRejectsVersionMismatchOverWire(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	info := testInfo("uid1")
	deps := testDeps(info)

	sess := New("s1", cstream.New(server), deps, zap.NewNop(), nil)

	doneCh := make(chan struct{})
	go func() {
		sess.Run()
		close(doneCh)
	}()

	_, _ = client.Write([]byte("LSL:streamfeed/200\r\n\r\n"))

	reader := make([]byte, 4096)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(reader)
	require.NoError(t, err)
	require.Contains(t, string(reader[:n]), "505")

	<-doneCh
}
