// Package query implements the discovery wire codec: building request
// datagrams, parsing response datagrams, and computing the short stable
// query id carried by both.
package query

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/lslnet/streamnet/streaminfo"
)

const requestPreamble = "LSL:shortinfo"

// Build produces "session_id='<sid>' and <predicateOrProperty>" or, when
// value is non-empty, "session_id='<sid>' and <property>='<value>'".
func Build(sessionID, predicateOrProperty, value string) string {
	sid := fmt.Sprintf("session_id='%s'", sessionID)
	if value == "" {
		return sid + " and " + predicateOrProperty
	}
	return fmt.Sprintf("%s and %s='%s'", sid, predicateOrProperty, value)
}

// Check validates that q parses as a predicate; ill-formed queries are
// rejected before any I/O.
func Check(q string) error {
	_, err := streaminfo.ParsePredicate(q)
	return err
}

// ID computes the decimal representation of a stable hash of the exact
// query string.
func ID(q string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(q))
	return strconv.FormatUint(h.Sum64(), 10)
}

// EncodeRequest renders the request datagram:
//
//	LSL:shortinfo\r\n
//	<query>\r\n
//	<replyPort> <queryID>\r\n
func EncodeRequest(q string, replyPort int) []byte {
	id := ID(q)
	msg := fmt.Sprintf("%s\r\n%s\r\n%d %s\r\n", requestPreamble, q, replyPort, id)
	return []byte(msg)
}

// ParseRequest is the inverse of EncodeRequest, used by a test outlet that
// wants to answer discovery datagrams without a full server.
func ParseRequest(data []byte) (q string, replyPort int, queryID string, err error) {
	lines := strings.Split(string(data), "\r\n")
	if len(lines) < 3 || lines[0] != requestPreamble {
		return "", 0, "", fmt.Errorf("malformed request datagram")
	}
	q = lines[1]
	fields := strings.Fields(lines[2])
	if len(fields) != 2 {
		return "", 0, "", fmt.Errorf("malformed request reply-port/query-id line")
	}
	replyPort, err = strconv.Atoi(fields[0])
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed reply port: %w", err)
	}
	queryID = fields[1]
	return q, replyPort, queryID, nil
}

// EncodeResponse renders the response datagram: the query id on the first
// line, followed by a shortinfo block.
func EncodeResponse(queryID string, shortInfo string) []byte {
	return []byte(queryID + "\n" + shortInfo)
}

// ParseResponse splits the payload at the first '\n' and returns the
// query id prefix and the remaining shortinfo block.
func ParseResponse(data []byte) (queryID string, shortInfo string, err error) {
	s := string(data)
	idx := strings.IndexByte(s, '\n')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed response datagram: no newline")
	}
	return strings.TrimSpace(s[:idx]), s[idx+1:], nil
}
