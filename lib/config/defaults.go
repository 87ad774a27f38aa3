package config

import (
	"path/filepath"
	"time"
)

// ConfigDefaults contains all default configuration values for go-wire.
type ConfigDefaults struct {
	// Identity defaults
	Identity IdentityDefaults

	// Wire connection defaults
	Wire WireDefaults

	// Transport defaults
	Transport TransportDefaults

	// Trust store defaults
	Trust TrustDefaults

	// Handshake flood control defaults
	Handshake HandshakeDefaults
}

// IdentityDefaults contains default values for the long-term identity key
type IdentityDefaults struct {
	// Path is the YAML key file holding the identity keypair
	// Default: $HOME/.go-wire/identity.yaml
	Path string
}

// WireDefaults contains default values applied to every connection
type WireDefaults struct {
	// Plaintext disables the handshake and envelope encryption
	// Default: false
	Plaintext bool

	// Ack is the initial acknowledgement counter
	// Default: 0
	Ack uint32

	// MaxFrameSize bounds the announced length of one inbound frame
	// Default: 4 MiB
	MaxFrameSize uint64

	// InboundQueue is the number of decoded frames buffered per connection
	// Default: 64
	InboundQueue int
}

// TransportDefaults contains default values for the byte stream layer
type TransportDefaults struct {
	// Kind selects the listener: "tcp" or "websocket"
	// Default: tcp
	Kind string

	// ListenAddr is where listen accepts streams
	// Default: 127.0.0.1:7420
	ListenAddr string

	// DialAddr is where dial connects; ws:// and wss:// URLs select WebSocket
	// Default: 127.0.0.1:7420
	DialAddr string

	// MaxConnections caps concurrently served streams
	// Default: 1024
	MaxConnections int

	// DialTimeout bounds connection setup
	// Default: 10 seconds
	DialTimeout time.Duration

	// MetricsAddr serves /metrics for TCP listeners; empty disables it.
	// WebSocket listeners always serve /metrics on ListenAddr.
	// Default: "" (disabled)
	MetricsAddr string
}

// TrustDefaults contains default values for the known-peer store
type TrustDefaults struct {
	// DBPath is the SQLite database of trusted peer keys
	// Default: $HOME/.go-wire/peers.db
	DBPath string

	// TOFU accepts and records unknown peers on first contact
	// Default: false
	TOFU bool
}

// HandshakeDefaults contains default values for handshake processing
type HandshakeDefaults struct {
	// Rate is the sustained number of stranger handshakes per second
	// Default: 10
	Rate float64

	// Burst is the stranger handshake burst allowance
	// Default: 20
	Burst int

	// ReplayTTL is how long accepted ephemeral keys are remembered
	// Default: 10 minutes
	ReplayTTL time.Duration
}

// Defaults returns the default configuration values.
func Defaults() ConfigDefaults {
	baseDir := BuildWireDirPath()

	return ConfigDefaults{
		Identity: IdentityDefaults{
			Path: filepath.Join(baseDir, "identity.yaml"),
		},
		Wire: WireDefaults{
			Plaintext:    false,
			Ack:          0,
			MaxFrameSize: 4 * 1024 * 1024,
			InboundQueue: 64,
		},
		Transport: TransportDefaults{
			Kind:           TransportTCP,
			ListenAddr:     "127.0.0.1:7420",
			DialAddr:       "127.0.0.1:7420",
			MaxConnections: 1024,
			DialTimeout:    10 * time.Second,
			MetricsAddr:    "",
		},
		Trust: TrustDefaults{
			DBPath: filepath.Join(baseDir, "peers.db"),
			TOFU:   false,
		},
		Handshake: HandshakeDefaults{
			Rate:      10,
			Burst:     20,
			ReplayTTL: 10 * time.Minute,
		},
	}
}
