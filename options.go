package redisrpc

import (
	"crypto/tls"
	"time"

	"golang.org/x/time/rate"

	"github.com/srand/redisrpc/transport"
)

const (
	// DefaultConnectionString is the transport endpoint used when none is
	// configured.
	DefaultConnectionString = "localhost:6379"
	// DefaultTimeout bounds a call when the caller supplies no deadline.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxConcurrentRequests sizes the server's permit pool.
	DefaultMaxConcurrentRequests = 100
)

// Options collects the configuration shared by clients and servers.
type Options struct {
	// ConnectionString is the transport endpoint, e.g. "localhost:6379".
	ConnectionString string

	// Database is the transport-specific database index.
	Database int

	// DefaultTimeout is the per-request deadline applied when a call
	// carries no explicit timeout. The server also uses it to bound
	// handler execution.
	DefaultTimeout time.Duration

	// MaxConcurrentRequests caps the number of handler invocations a
	// server runs simultaneously.
	MaxConcurrentRequests int

	// ChannelPrefix namespaces all request and response channels.
	ChannelPrefix string

	// IncludeStackTraceInErrors attaches stack traces to error envelopes.
	// Off by default; stack traces leak implementation detail to callers.
	IncludeStackTraceInErrors bool

	// TLSConfig secures the connection to the transport endpoint.
	TLSConfig *tls.Config

	// Logger receives diagnostics. Defaults to the standard log package.
	Logger Logger

	// PubSub overrides the transport entirely. When set, ConnectionString,
	// Database and TLSConfig are ignored and the caller retains ownership
	// of the adapter.
	PubSub transport.PubSub

	// RateLimit throttles client publishes. Nil means unlimited.
	RateLimit *rate.Limiter
}

func newOptions(opts ...Option) *Options {
	o := &Options{
		ConnectionString:      DefaultConnectionString,
		DefaultTimeout:        DefaultTimeout,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		ChannelPrefix:         DefaultChannelPrefix,
		Logger:                stdLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Client or Server.
type Option func(*Options)

// WithConnectionString sets the transport endpoint.
func WithConnectionString(addr string) Option {
	return func(o *Options) {
		o.ConnectionString = addr
	}
}

// WithDatabase selects the transport database index.
func WithDatabase(db int) Option {
	return func(o *Options) {
		o.Database = db
	}
}

// WithDefaultTimeout sets the per-request deadline applied when a call
// carries no explicit timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.DefaultTimeout = d
	}
}

// WithMaxConcurrentRequests caps simultaneous handler invocations.
func WithMaxConcurrentRequests(n int) Option {
	return func(o *Options) {
		o.MaxConcurrentRequests = n
	}
}

// WithChannelPrefix sets the channel namespace.
func WithChannelPrefix(prefix string) Option {
	return func(o *Options) {
		o.ChannelPrefix = prefix
	}
}

// WithStackTraces includes stack traces in error envelopes.
func WithStackTraces() Option {
	return func(o *Options) {
		o.IncludeStackTraceInErrors = true
	}
}

// WithTLSConfig secures the transport connection.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *Options) {
		o.TLSConfig = cfg
	}
}

// WithLogger replaces the default logger.
func WithLogger(l Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithPubSub supplies a transport adapter directly, e.g. an in-memory bus
// or an MQTT broker. The caller keeps ownership and must close it.
func WithPubSub(ps transport.PubSub) Option {
	return func(o *Options) {
		o.PubSub = ps
	}
}

// WithRateLimit throttles client publishes with a token bucket of r events
// per second and the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// CallOption configures a single request.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithCallTimeout overrides the client's default timeout for one request.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}
