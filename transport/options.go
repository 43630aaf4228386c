package transport

import (
	"crypto/tls"
	"fmt"
	"time"
)

type Options struct {
	// Addr is the broker endpoint, e.g. "localhost:6379".
	Addr string

	// Database selects the broker database index, for backends that have
	// one.
	Database int

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration

	// TlsConfig enables a secure connection to the broker.
	TlsConfig *tls.Config

	// OnConnect callbacks run when the adapter connects. The MQTT backend
	// runs them on every (re)connect; the Redis backend runs them once, when
	// New creates the adapter.
	OnConnect []func(PubSub)
}

func NewOptions(opts ...Option) (*Options, error) {
	o := &Options{
		ConnectTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

type Option func(*Options) error

func WithAddress(addr string) Option {
	return func(opts *Options) error {
		opts.Addr = addr
		return nil
	}
}

func WithDatabase(db int) Option {
	return func(opts *Options) error {
		opts.Database = db
		return nil
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(opts *Options) error {
		opts.ConnectTimeout = d
		return nil
	}
}

func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(opts *Options) error {
		opts.TlsConfig = tlsConfig
		return nil
	}
}

func WithOnConnect(f func(PubSub)) Option {
	return func(opts *Options) error {
		if f == nil {
			return fmt.Errorf("OnConnect function cannot be nil")
		}
		opts.OnConnect = append(opts.OnConnect, f)
		return nil
	}
}
