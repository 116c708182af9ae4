package endpoint

import (
	"time"

	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
)

// Config holds the tunables Bind/Connect accept as trailing functional
// options, the Go-native reading of the Python original's
// RoutingSocketOptions dataclass (spec.md's ambient-stack "Configuration"
// note).
type Config struct {
	Logger       nlog.Logger
	PollInterval time.Duration
	Identity     string
	EntryFile    string
}

// Option mutates a Config built from the endpoint's positional defaults.
type Option func(*Config)

// WithLogger overrides the logger Bind/Connect would otherwise default to.
func WithLogger(log nlog.Logger) Option {
	return func(c *Config) { c.Logger = log }
}

// WithPollInterval overrides the interval forward/reverse read loops block
// for between checks of their done channel.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithIdentity overrides the wire identity Bind/Connect would otherwise
// pick (the server's bind identity, or the client's forward identity).
func WithIdentity(identity string) Option {
	return func(c *Config) { c.Identity = identity }
}

// WithEntryFile overrides the entry_file metadata field Bind would
// otherwise leave equal to the server's identity (the Go analog of the
// Python original's __main__ module path, nrpc_py/server_socket.py:57-73).
func WithEntryFile(entryFile string) Option {
	return func(c *Config) { c.EntryFile = entryFile }
}

func resolveConfig(log nlog.Logger, identity string, opts []Option) Config {
	cfg := Config{
		Logger:       log,
		PollInterval: defaultPollInterval,
		Identity:     identity,
		EntryFile:    identity,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = nlog.NewDefault()
	}
	return cfg
}
