package session

import (
	"strconv"
	"strings"

	"github.com/lslnet/streamnet/cstream"
	"github.com/lslnet/streamnet/errs"
)

// feedParams is the parsed set of case-insensitive "key: value" request
// lines terminated by a blank line; ";" introduces a comment.
type feedParams struct {
	nativeByteOrder   int
	endianPerfNs      float64
	hasIEEE754        bool
	supportsSubnormal bool
	valueSize         int
	maxBufferLength   int
	maxChunkLength    int
	protocolVersion   int
}

// readFeedParams reads request lines until a blank line, recognizing the
// keys named in §4.5: native-byte-order, endian-performance,
// has-ieee754-floats, supports-subnormals, value-size, max-buffer-length,
// max-chunk-length, protocol-version.
func readFeedParams(conn *cstream.Conn) (feedParams, error) {
	p := feedParams{
		nativeByteOrder:   1234,
		hasIEEE754:        true,
		supportsSubnormal: true,
	}

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return p, err
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])

		switch key {
		case "native-byte-order":
			if v, err := strconv.Atoi(val); err == nil {
				p.nativeByteOrder = v
			}
		case "endian-performance":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				p.endianPerfNs = v
			}
		case "has-ieee754-floats":
			p.hasIEEE754 = parseBool(val)
		case "supports-subnormals":
			p.supportsSubnormal = parseBool(val)
		case "value-size":
			if v, err := strconv.Atoi(val); err == nil {
				p.valueSize = v
			}
		case "max-buffer-length":
			if v, err := strconv.Atoi(val); err == nil {
				p.maxBufferLength = v
			}
		case "max-chunk-length":
			if v, err := strconv.Atoi(val); err == nil {
				p.maxChunkLength = v
			}
		case "protocol-version":
			if v, err := strconv.Atoi(val); err == nil {
				p.protocolVersion = v
			}
		}
	}
	return p, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// negotiated holds the outcome of protocol negotiation, sufficient to
// render the response headers, the feed header, and to drive the pump.
type negotiated struct {
	responseVersion    int // our cap, used on both success and error status lines
	dataProtocolVersion int
	byteOrder          int
	suppressSubnormals bool
	reverseByteOrder   bool
	maxBuffered        int
	maxSamplesPerChunk int
}

// negotiate implements §4.5's rules in order: version cap rejection, UID
// mismatch rejection, min(our, client) data protocol version, legacy
// downgrade, byte-swap enablement, subnormal suppression.
func negotiate(requestedVersion int, requestedUID string, req feedParams, deps Deps) (negotiated, error) {
	ourVersion := deps.UseProtocolVersion
	n := negotiated{responseVersion: ourVersion}

	if requestedVersion/100 > ourVersion/100 {
		return n, errs.ErrVersionUnsupported
	}

	if requestedUID != "" && requestedUID != deps.Info.UID() {
		return n, errs.ErrUIDMismatch
	}

	clientVersion := req.protocolVersion
	if clientVersion == 0 {
		clientVersion = requestedVersion
	}

	dpv := ourVersion
	if clientVersion < dpv {
		dpv = clientVersion
	}

	format := deps.Info.ChannelFormatValue()
	valueSize := format.Bytes()

	// Downgrade to legacy (100) when the channel format is non-string with
	// differing value sizes, or either side lacks IEEE-754 floats for a
	// float channel format.
	nonStringSizeMismatch := format.Bytes() != 0 && req.valueSize != 0 && req.valueSize != valueSize
	missingFloats := format.IsFloat() && (!req.hasIEEE754 || !deps.OurHasIEEE754)
	if nonStringSizeMismatch || missingFloats {
		dpv = legacyProtocolVersion
	}

	reverseByteOrder := false
	if dpv >= 110 {
		canConvert := valueSize > 1 && canConvertEndian(valueSize)
		ordersDiffer := req.nativeByteOrder != deps.OurByteOrder
		weAreFaster := deps.OurEndianPerfNs > 0 && req.endianPerfNs > 0 && deps.OurEndianPerfNs < req.endianPerfNs
		if ordersDiffer && canConvert && valueSize > 1 && weAreFaster {
			reverseByteOrder = true
		}
	}

	suppressSubnormals := format.HasSubnormals() && !req.supportsSubnormal

	maxBuffered := req.maxBufferLength
	if maxBuffered == 0 {
		maxBuffered = deps.MaxBuffered
	}

	maxSamplesPerChunk := req.maxChunkLength
	if maxSamplesPerChunk == 0 {
		maxSamplesPerChunk = deps.ChunkSize
	}

	n.dataProtocolVersion = dpv
	n.byteOrder = deps.OurByteOrder
	n.reverseByteOrder = reverseByteOrder
	n.suppressSubnormals = suppressSubnormals
	n.maxBuffered = maxBuffered
	n.maxSamplesPerChunk = maxSamplesPerChunk

	return n, nil
}

// canConvertEndian reports whether this implementation can byte-swap a
// value of the given size; all the fixed-width formats this system
// supports (2, 4, 8 bytes) are convertible.
func canConvertEndian(valueSize int) bool {
	switch valueSize {
	case 2, 4, 8:
		return true
	default:
		return false
	}
}

func (s *Session) writeOKResponse(n negotiated) error {
	var b strings.Builder
	b.WriteString("LSL/")
	b.WriteString(strconv.Itoa(n.responseVersion))
	b.WriteString(" 200 OK\r\n")
	b.WriteString("UID: " + s.deps.Info.UID() + "\r\n")
	b.WriteString("Byte-Order: " + strconv.Itoa(n.byteOrder) + "\r\n")
	b.WriteString("Suppress-Subnormals: " + boolDigit(n.suppressSubnormals) + "\r\n")
	b.WriteString("Data-Protocol-Version: " + strconv.Itoa(n.dataProtocolVersion) + "\r\n")
	b.WriteString("\r\n")

	if _, err := s.conn.Write([]byte(b.String())); err != nil {
		return err
	}
	return s.conn.Flush()
}

func boolDigit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
