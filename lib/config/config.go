package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-i2p/go-wire/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GOWIRE_BASE_DIR = ".go-wire"

// Transport kinds accepted by transport.kind.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// WireConfig is the typed configuration used by the command line tool.
type WireConfig struct {
	IdentityPath string
	// PeerKey pins the remote identity (hex). Empty accepts strangers
	// through the trust store.
	PeerKey string

	Plaintext    bool
	Ack          uint32
	MaxFrameSize uint64
	InboundQueue int

	Transport      string
	ListenAddr     string
	DialAddr       string
	MaxConnections int
	DialTimeout    time.Duration
	MetricsAddr    string

	TrustDBPath string
	TOFU        bool

	HandshakeRate  float64
	HandshakeBurst int
	ReplayTTL      time.Duration
}

// InitConfig loads the config file named by CfgFile, or
// $HOME/.go-wire/config.yaml, creating the latter with defaults if missing.
// Environment variables prefixed GOWIRE_ override file values.
func InitConfig() error {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildWireDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GOWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Load defaults
	setDefaults()

	// handle config file creating it if needed
	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("identity.path", d.Identity.Path)
	viper.SetDefault("peer.public_key", "")

	viper.SetDefault("wire.plaintext", d.Wire.Plaintext)
	viper.SetDefault("wire.ack", d.Wire.Ack)
	viper.SetDefault("wire.max_frame_size", d.Wire.MaxFrameSize)
	viper.SetDefault("wire.inbound_queue", d.Wire.InboundQueue)

	viper.SetDefault("transport.kind", d.Transport.Kind)
	viper.SetDefault("transport.listen", d.Transport.ListenAddr)
	viper.SetDefault("transport.dial", d.Transport.DialAddr)
	viper.SetDefault("transport.max_connections", d.Transport.MaxConnections)
	viper.SetDefault("transport.dial_timeout", d.Transport.DialTimeout)
	viper.SetDefault("metrics.listen", d.Transport.MetricsAddr)

	viper.SetDefault("trust.db_path", d.Trust.DBPath)
	viper.SetDefault("trust.tofu", d.Trust.TOFU)

	viper.SetDefault("handshake.rate", d.Handshake.Rate)
	viper.SetDefault("handshake.burst", d.Handshake.Burst)
	viper.SetDefault("handshake.replay_ttl", d.Handshake.ReplayTTL)
}

// NewWireConfigFromViper creates a new WireConfig from current viper settings
func NewWireConfigFromViper() *WireConfig {
	return &WireConfig{
		IdentityPath: viper.GetString("identity.path"),
		PeerKey:      viper.GetString("peer.public_key"),

		Plaintext:    viper.GetBool("wire.plaintext"),
		Ack:          viper.GetUint32("wire.ack"),
		MaxFrameSize: viper.GetUint64("wire.max_frame_size"),
		InboundQueue: viper.GetInt("wire.inbound_queue"),

		Transport:      strings.ToLower(viper.GetString("transport.kind")),
		ListenAddr:     viper.GetString("transport.listen"),
		DialAddr:       viper.GetString("transport.dial"),
		MaxConnections: viper.GetInt("transport.max_connections"),
		DialTimeout:    viper.GetDuration("transport.dial_timeout"),
		MetricsAddr:    viper.GetString("metrics.listen"),

		TrustDBPath: viper.GetString("trust.db_path"),
		TOFU:        viper.GetBool("trust.tofu"),

		HandshakeRate:  viper.GetFloat64("handshake.rate"),
		HandshakeBurst: viper.GetInt("handshake.burst"),
		ReplayTTL:      viper.GetDuration("handshake.replay_ttl"),
	}
}

// Validate reports settings that cannot be used.
func (c *WireConfig) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return oops.Wrapf(ErrInvalidConfig, "transport.kind %q: want %q or %q", c.Transport, TransportTCP, TransportWebSocket)
	}
	if !c.Plaintext && c.IdentityPath == "" {
		return oops.Wrapf(ErrInvalidConfig, "identity.path is required unless wire.plaintext is set")
	}
	if c.HandshakeRate < 0 || c.HandshakeBurst < 0 {
		return oops.Wrapf(ErrInvalidConfig, "handshake.rate and handshake.burst must not be negative")
	}
	if c.MaxConnections < 0 {
		return oops.Wrapf(ErrInvalidConfig, "transport.max_connections must not be negative")
	}
	return nil
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	// Ensure directory exists
	if err := os.MkdirAll(defaultConfigDir, 0o700); err != nil {
		return oops.Wrapf(err, "creating config directory")
	}

	// Write current config file
	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		return oops.Wrapf(err, "writing default config file")
	}

	log.WithField("path", defaultConfigFile).Debug("created default configuration")
	return nil
}

func handleConfigFile() error {
	if CfgFile != "" && !util.CheckFileExists(CfgFile) {
		return oops.Errorf("config file %s is not found", CfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && CfgFile == "" {
			return createDefaultConfig(BuildWireDirPath())
		}
		return oops.Wrapf(err, "reading config file")
	}
	log.WithField("path", viper.ConfigFileUsed()).Debug("using config file")
	return nil
}

func BuildWireDirPath() string {
	return filepath.Join(util.UserHome(), GOWIRE_BASE_DIR)
}
