package core

import (
	"path"
	"time"

	clock "github.com/jonboulle/clockwork"
	bolt "go.etcd.io/bbolt"
	"google.golang.org/grpc"

	"github.com/duchynet/duchy/blob"
	"github.com/duchynet/duchy/log"
	"github.com/duchynet/duchy/mill"
)

// ConfigOption is a function that applies a specific setting to a Config.
type ConfigOption func(*Config)

// Config holds all relevant information for a duchy daemon to run.
type Config struct {
	self         string
	ring         *Ring
	configFolder string
	dbFolder     string
	listenAddr   string
	insecure     bool
	certPath     string
	keyPath      string
	boltOpts     *bolt.Options
	grpcOpts     []grpc.DialOption
	blobs        blob.Store
	crypto       mill.CryptoWorker
	pollInterval time.Duration
	metricsPort  int
	logger       log.Logger
	clock        clock.Clock
}

// NewConfig returns the config to pass to a daemon with the default options
// set and the updated values given by the options.
func NewConfig(self string, ring *Ring, opts ...ConfigOption) *Config {
	c := &Config{
		self:         self,
		ring:         ring,
		configFolder: DefaultConfigFolder(),
		pollInterval: DefaultPollInterval,
		logger:       log.DefaultLogger(),
		clock:        clock.NewRealClock(),
	}
	c.dbFolder = path.Join(c.configFolder, DefaultDBFolder)
	for i := range opts {
		opts[i](c)
	}
	return c
}

// Self returns the name this duchy is known by in the ring.
func (c *Config) Self() string {
	return c.self
}

// Ring returns the set of duchies running the protocol.
func (c *Config) Ring() *Ring {
	return c.ring
}

// ConfigFolder returns the folder under which the daemon keeps its state.
func (c *Config) ConfigFolder() string {
	return c.configFolder
}

// DBFolder returns the folder holding the token database.
func (c *Config) DBFolder() string {
	return c.dbFolder
}

// ListenAddress returns the configured binding address or the default.
func (c *Config) ListenAddress() string {
	if c.listenAddr != "" {
		return c.listenAddr
	}
	return DefaultListenAddress
}

// Logger returns the logger associated with this config.
func (c *Config) Logger() log.Logger {
	return c.logger
}

// WithConfigFolder sets the base configuration folder to the given string.
func WithConfigFolder(folder string) ConfigOption {
	return func(c *Config) {
		c.configFolder = folder
		c.dbFolder = path.Join(c.configFolder, DefaultDBFolder)
	}
}

// WithDBFolder sets the path folder for the db file. This path is NOT
// relative to the config folder.
func WithDBFolder(folder string) ConfigOption {
	return func(c *Config) {
		c.dbFolder = folder
	}
}

// WithListenAddress specifies the address the daemon should bind to.
func WithListenAddress(addr string) ConfigOption {
	return func(c *Config) {
		c.listenAddr = addr
	}
}

// WithInsecure allows the daemon to listen and dial over non-encrypted TCP
// connections.
func WithInsecure() ConfigOption {
	return func(c *Config) {
		c.insecure = true
	}
}

// WithTLS registers the certificate and private key path so the daemon can
// accept connections using TLS.
func WithTLS(certPath, keyPath string) ConfigOption {
	return func(c *Config) {
		c.certPath = certPath
		c.keyPath = keyPath
	}
}

// WithBoltOptions applies boltdb specific options when opening the token
// database.
func WithBoltOptions(opts *bolt.Options) ConfigOption {
	return func(c *Config) {
		c.boltOpts = opts
	}
}

// WithGrpcOptions applies grpc dialing options used when this duchy contacts
// a peer.
func WithGrpcOptions(opts ...grpc.DialOption) ConfigOption {
	return func(c *Config) {
		c.grpcOpts = opts
	}
}

// WithBlobStore sets the store artifacts are persisted in. Defaults to the
// in-memory store.
func WithBlobStore(s blob.Store) ConfigOption {
	return func(c *Config) {
		c.blobs = s
	}
}

// WithCryptoWorker sets the implementation of the protocol's transforms. The
// mill only runs when one is configured.
func WithCryptoWorker(cw mill.CryptoWorker) ConfigOption {
	return func(c *Config) {
		c.crypto = cw
	}
}

// WithPollInterval sets how often the mill scans for claimable stages.
func WithPollInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.pollInterval = d
	}
}

// WithMetricsPort launches a prometheus endpoint on the given port.
func WithMetricsPort(port int) ConfigOption {
	return func(c *Config) {
		c.metricsPort = port
	}
}

// WithLogger overrides the daemon logger.
func WithLogger(l log.Logger) ConfigOption {
	return func(c *Config) {
		c.logger = l
	}
}

// WithClock sets the clock the mill ticks on. Used by tests.
func WithClock(cl clock.Clock) ConfigOption {
	return func(c *Config) {
		c.clock = cl
	}
}
