// Package config provides configuration management for go-wire.
//
// Settings come from viper: built-in defaults, then $HOME/.go-wire/config.yaml
// (or the file named by CfgFile), then GOWIRE_* environment variables, then
// any command line flags bound by the caller. NewWireConfigFromViper snapshots
// the result into a WireConfig.
//
// Keys:
//
//	identity.path            identity key file (YAML)
//	peer.public_key          pinned remote identity, hex
//	wire.plaintext           skip handshake and encryption
//	wire.ack                 initial acknowledgement counter
//	wire.max_frame_size      inbound frame size limit in bytes
//	wire.inbound_queue       decoded frames buffered per connection
//	transport.kind           tcp or websocket
//	transport.listen         listen address
//	transport.dial           dial address or ws:// URL
//	transport.max_connections
//	transport.dial_timeout
//	metrics.listen           separate /metrics address for tcp listeners
//	trust.db_path            SQLite trust store
//	trust.tofu               trust unknown peers on first contact
//	handshake.rate           stranger handshakes per second
//	handshake.burst
//	handshake.replay_ttl     how long ephemeral keys are remembered
package config
