// Package config is the concrete realization of the "configuration store"
// external collaborator named in the specification's scope note: it
// supplies ports, timeouts, allowed address families, peer lists, and the
// session id consumed by the resolver and stream server packages.
//
// Layered load order follows the grover example's config package: defaults,
// then a YAML file, then environment variables (STREAMNET_ prefix), all via
// spf13/viper. Command-line flags of the cmd/ entrypoints choose the file
// but do not override individual settings.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every configuration input named in the specification's
// external-interfaces table.
type Config struct {
	// SessionID is conjoined into every outgoing query and scopes visibility.
	SessionID string `yaml:"session_id" mapstructure:"session_id"`

	// KnownPeers selects unicast resolve mode alongside multicast when non-empty.
	KnownPeers []string `yaml:"known_peers" mapstructure:"known_peers"`

	MulticastAddresses []string `yaml:"multicast_addresses" mapstructure:"multicast_addresses"`
	MulticastPort      int      `yaml:"multicast_port" mapstructure:"multicast_port"`
	MulticastTTL       int      `yaml:"multicast_ttl" mapstructure:"multicast_ttl"`

	// BasePort/PortRange bound both the resolver's receive-port probing and
	// the stream server's data-port probing.
	BasePort  int `yaml:"base_port" mapstructure:"base_port"`
	PortRange int `yaml:"port_range" mapstructure:"port_range"`

	UnicastMinRTT   time.Duration `yaml:"unicast_min_rtt" mapstructure:"unicast_min_rtt"`
	MulticastMinRTT time.Duration `yaml:"multicast_min_rtt" mapstructure:"multicast_min_rtt"`

	ContinuousResolveInterval time.Duration `yaml:"continuous_resolve_interval" mapstructure:"continuous_resolve_interval"`

	AllowIPv4 bool `yaml:"allow_ipv4" mapstructure:"allow_ipv4"`
	AllowIPv6 bool `yaml:"allow_ipv6" mapstructure:"allow_ipv6"`

	ValidateQueryResponses bool `yaml:"validate_query_responses" mapstructure:"validate_query_responses"`

	UseProtocolVersion int `yaml:"use_protocol_version" mapstructure:"use_protocol_version"`

	SocketSendBufferSize    int `yaml:"socket_send_buffer_size" mapstructure:"socket_send_buffer_size"`
	SocketReceiveBufferSize int `yaml:"socket_receive_buffer_size" mapstructure:"socket_receive_buffer_size"`

	// ChunkSize is the server-side default for max_samples_per_chunk, used
	// when a client's feedparams omit max-chunk-length.
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`

	// MaxBuffered is the default per-consumer sample queue depth.
	MaxBuffered int `yaml:"max_buffered" mapstructure:"max_buffered"`

	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	HealthAddr  string `yaml:"health_addr" mapstructure:"health_addr"`
}

// defaultDocument mirrors the teacher's embedded defaultConfig.go: enough
// to run without a user-supplied file.
const defaultDocument = `
session_id: "default"
known_peers: []
multicast_addresses:
  - "224.0.0.183"
  - "ff15:0:0:0:0:0:0:1"
multicast_port: 16571
multicast_ttl: 1
base_port: 16572
port_range: 32
unicast_min_rtt: 75ms
multicast_min_rtt: 300ms
continuous_resolve_interval: 5s
allow_ipv4: true
allow_ipv6: true
validate_query_responses: true
use_protocol_version: 110
socket_send_buffer_size: 0
socket_receive_buffer_size: 0
chunk_size: 0
max_buffered: 360
metrics_addr: ""
health_addr: ""
`

// Default returns the minimum working configuration, as the teacher's
// DefaultConfig does for a service started without a config file.
func Default() *Config {
	c := &Config{}
	if err := yaml.Unmarshal([]byte(defaultDocument), c); err != nil {
		panic(err.Error())
	}
	return c
}

// Load builds a Config from defaults, an optional file at path, and
// STREAMNET_-prefixed environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(defaultDocument)); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("streamnet")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}
	return c, nil
}
