// Package streaminfo provides the concrete realization of the StreamInfo
// external collaborator named in the specification: logical stream
// identity plus the instantiation metadata, and its shortinfo/fullinfo
// wire encodings.
package streaminfo

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ChannelFormat mirrors the fixed set of sample value encodings a stream
// can advertise.
type ChannelFormat int

// Recognized channel formats; Undefined is the zero value.
const (
	FormatUndefined ChannelFormat = iota
	FormatFloat32
	FormatDouble64
	FormatString
	FormatInt32
	FormatInt16
	FormatInt8
	FormatInt64
)

// Bytes returns the per-value wire size, or 0 for the variable-length
// String format.
func (f ChannelFormat) Bytes() int {
	switch f {
	case FormatFloat32, FormatInt32:
		return 4
	case FormatDouble64, FormatInt64:
		return 8
	case FormatInt16:
		return 2
	case FormatInt8:
		return 1
	default:
		return 0
	}
}

// HasSubnormals reports whether the format's range includes IEEE-754
// subnormal values (only the floating-point formats do).
func (f ChannelFormat) HasSubnormals() bool {
	return f == FormatFloat32 || f == FormatDouble64
}

// IsFloat reports whether the format is one of the IEEE-754 float kinds.
func (f ChannelFormat) IsFloat() bool {
	return f == FormatFloat32 || f == FormatDouble64
}

// Info is one outlet instantiation's advertised metadata: logical identity
// (name, type, channel count, channel format, nominal rate) plus a session
// id, a per-instantiation UID, creation timestamp, hostname, and
// advertised data ports. UID uniquely identifies one instantiation;
// SessionID scopes a deployment.
type Info struct {
	Name          string
	Type          string
	ChannelCount  int
	Format        ChannelFormat
	NominalRate   float64
	SourceID      string
	SessionID     string
	UIDValue      string
	Created       time.Time
	Hostname      string
	V4DataPort    int
	V6DataPort    int
	Extra         map[string]string // free-form fullinfo fields, e.g. desc
}

// New fills in UID, Created, and Hostname the way an outlet does at
// instantiation time.
func New(name, typ string, channelCount int, format ChannelFormat, nominalRate float64, sourceID, sessionID, hostname string) *Info {
	return &Info{
		Name:         name,
		Type:         typ,
		ChannelCount: channelCount,
		Format:       format,
		NominalRate:  nominalRate,
		SourceID:     sourceID,
		SessionID:    sessionID,
		UIDValue:     uuid.NewString(),
		Created:      time.Now(),
		Hostname:     hostname,
	}
}

// UID returns the per-instantiation unique identifier.
func (i *Info) UID() string { return i.UIDValue }

// ChannelFormatValue returns the advertised channel format.
func (i *Info) ChannelFormatValue() ChannelFormat { return i.Format }

// ChannelBytes returns the per-value wire size of the channel format.
func (i *Info) ChannelBytes() int { return i.Format.Bytes() }

// xmlInfo is the wire shape for both shortinfo and fullinfo blocks; fullinfo
// additionally carries Extra as a sequence of <desc name="..."> entries.
// encoding/xml's Marshal has no support for map-valued fields (it falls
// through to UnsupportedTypeError for any reflect.Map), so Extra is
// flattened to descField entries rather than encoded directly as a map.
type xmlInfo struct {
	XMLName      xml.Name    `xml:"info"`
	Name         string      `xml:"name"`
	Type         string      `xml:"type"`
	ChannelCount int         `xml:"channel_count"`
	NominalRate  float64     `xml:"nominal_srate"`
	Format       string      `xml:"channel_format"`
	SourceID     string      `xml:"source_id"`
	SessionID    string      `xml:"session_id"`
	UID          string      `xml:"uid"`
	CreatedAt    float64     `xml:"created_at"`
	Hostname     string      `xml:"hostname"`
	V4DataPort   int         `xml:"v4data_port"`
	V6DataPort   int         `xml:"v6data_port"`
	Desc         []descField `xml:"desc,omitempty"`
}

// descField is one Extra entry, flattened for xml.Marshal/Unmarshal since
// map[string]string fields cannot be encoded directly.
type descField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

var formatNames = map[ChannelFormat]string{
	FormatFloat32:  "float32",
	FormatDouble64: "double64",
	FormatString:   "string",
	FormatInt32:    "int32",
	FormatInt16:    "int16",
	FormatInt8:     "int8",
	FormatInt64:    "int64",
}

var formatByName = func() map[string]ChannelFormat {
	m := make(map[string]ChannelFormat, len(formatNames))
	for f, n := range formatNames {
		m[n] = f
	}
	return m
}()

func (i *Info) toXML(full bool) xmlInfo {
	x := xmlInfo{
		Name:         i.Name,
		Type:         i.Type,
		ChannelCount: i.ChannelCount,
		NominalRate:  i.NominalRate,
		Format:       formatNames[i.Format],
		SourceID:     i.SourceID,
		SessionID:    i.SessionID,
		UID:          i.UIDValue,
		CreatedAt:    float64(i.Created.UnixNano()) / 1e9,
		Hostname:     i.Hostname,
		V4DataPort:   i.V4DataPort,
		V6DataPort:   i.V6DataPort,
	}
	if full && len(i.Extra) > 0 {
		keys := make([]string, 0, len(i.Extra))
		for k := range i.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		x.Desc = make([]descField, 0, len(keys))
		for _, k := range keys {
			x.Desc = append(x.Desc, descField{Name: k, Value: i.Extra[k]})
		}
	}
	return x
}

// ToShortInfoMessage renders the compact metadata block returned in UDP
// discovery replies.
func (i *Info) ToShortInfoMessage() (string, error) {
	return marshalIndent(i.toXML(false))
}

// ToFullInfoMessage renders the extended metadata block returned over TCP.
func (i *Info) ToFullInfoMessage() (string, error) {
	return marshalIndent(i.toXML(true))
}

func marshalIndent(x xmlInfo) (string, error) {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(x); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FromShortInfoMessage parses a shortinfo (or fullinfo) XML block back into
// an Info. Round-tripping ToShortInfoMessage -> FromShortInfoMessage yields
// an equal Info modulo the Created sub-second float precision.
func FromShortInfoMessage(s string) (*Info, error) {
	var x xmlInfo
	if err := xml.Unmarshal([]byte(s), &x); err != nil {
		return nil, fmt.Errorf("parsing shortinfo block: %w", err)
	}

	format, ok := formatByName[x.Format]
	if !ok {
		format = FormatUndefined
	}

	var extra map[string]string
	if len(x.Desc) > 0 {
		extra = make(map[string]string, len(x.Desc))
		for _, d := range x.Desc {
			extra[d.Name] = d.Value
		}
	}

	return &Info{
		Name:         x.Name,
		Type:         x.Type,
		ChannelCount: x.ChannelCount,
		Format:       format,
		NominalRate:  x.NominalRate,
		SourceID:     x.SourceID,
		SessionID:    x.SessionID,
		UIDValue:     x.UID,
		Created:      time.Unix(0, int64(x.CreatedAt*1e9)),
		Hostname:     x.Hostname,
		V4DataPort:   x.V4DataPort,
		V6DataPort:   x.V6DataPort,
		Extra:        extra,
	}, nil
}

// Property returns a named logical property value as a string, used by the
// query matcher; unknown names return ("", false).
func (i *Info) Property(name string) (string, bool) {
	switch name {
	case "name":
		return i.Name, true
	case "type":
		return i.Type, true
	case "source_id":
		return i.SourceID, true
	case "session_id":
		return i.SessionID, true
	case "hostname":
		return i.Hostname, true
	case "uid":
		return i.UIDValue, true
	case "channel_count":
		return fmt.Sprintf("%d", i.ChannelCount), true
	case "nominal_srate":
		return fmt.Sprintf("%g", i.NominalRate), true
	case "channel_format":
		return formatNames[i.Format], true
	default:
		return "", false
	}
}
