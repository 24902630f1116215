package config

import (
	"crypto/ed25519"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/natternet/natter/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultBindAddr         = "127.0.0.1:1337"
	DefaultServiceAddr      = "127.0.0.1:8000"
	DefaultTimeout          = 1000 * time.Millisecond
	DefaultAnnounceInterval = 1000 * time.Millisecond
	DefaultCacheSize        = 10000
	DefaultSyncLimit        = 1000
	DefaultStore            = false
	DefaultQUIC             = false
)

// Config contains all the configuration properties of a natter node.
type Config struct {
	// DataDir is the top-level directory containing natter configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, tees all log output to the given file. The terminal
	// chat owns stdout, so this is the way to capture full logs while the UI
	// is running.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node listens for other
	// members of the channel. In some cases, there may be a routable address
	// that cannot be bound. Use AdvertiseAddr to advertise a different
	// address to support this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes, both to dialed peers and in mDNS discovery answers.
	AdvertiseAddr string `mapstructure:"advertise"`

	// Channel is the chat:// link of the channel to join. When empty, a new
	// channel is created under this node's identity and its link is printed
	// on startup.
	Channel string `mapstructure:"channel"`

	// Moniker defines the friendly name of this node. It travels in the
	// session hello and decorates chat lines, but plays no role in identity.
	Moniker string `mapstructure:"moniker"`

	// Join lists addresses of known members to dial directly, bypassing
	// discovery. Useful across network segments where multicast does not
	// reach.
	Join []string `mapstructure:"join"`

	// QUIC selects the QUIC transport instead of TCP.
	QUIC bool `mapstructure:"quic"`

	// Timeout is the timeout for dialing peers. It also bounds the handshake
	// on inbound connections.
	Timeout time.Duration `mapstructure:"timeout"`

	// AnnounceInterval is the frequency of both the mDNS discovery query and
	// the periodic re-announce of known logs to connected peers.
	AnnounceInterval time.Duration `mapstructure:"announce"`

	// SyncLimit defines the max number of log entries to include in a single
	// data message when backfilling a peer.
	SyncLimit int `mapstructure:"sync-limit"`

	// NoDiscovery disables mDNS discovery. Only bootstrap peers and --join
	// addresses are dialed.
	NoDiscovery bool `mapstructure:"no-discovery"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package. It is possible that
	// another server in the same process is simultaneously using the
	// DefaultServerMux. In which case, the handlers will be accessible from
	// both servers.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistent storage. The channel's logs survive
	// restarts and are re-verified against their hash chains on load.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of log entries kept in the in-memory
	// window of the persistent store.
	CacheSize int `mapstructure:"cache-size"`

	// Key is the private key of this node's identity.
	Key ed25519.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		BindAddr:         DefaultBindAddr,
		ServiceAddr:      DefaultServiceAddr,
		Timeout:          DefaultTimeout,
		AnnounceInterval: DefaultAnnounceInterval,
		CacheSize:        DefaultCacheSize,
		SyncLimit:        DefaultSyncLimit,
		Store:            DefaultStore,
		QUIC:             DefaultQUIC,
		DatabaseDir:      DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level natter directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry, with prefix set to "natter". When
// LogFile is set, a hook tees every level to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, level := range logrus.AllLevels {
				pathMap[level] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "natter")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level natter
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Natter")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Natter")
		} else {
			return filepath.Join(home, ".natter")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
