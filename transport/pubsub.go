// Package transport defines the pub/sub capability the RPC fabric runs on,
// together with the options shared by its backends. Implementations live in
// the redis, mqtt and inmem subpackages.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned for operations on a closed adapter.
	ErrClosed = errors.New("transport: closed")
	// ErrAlreadySubscribed is returned when a channel already has a handler.
	ErrAlreadySubscribed = errors.New("transport: already subscribed")
	// ErrNotSubscribed is returned when unsubscribing a channel with no handler.
	ErrNotSubscribed = errors.New("transport: not subscribed")
)

// Handler is invoked for each message delivered on a subscribed channel.
// Implementations call it from a dispatch goroutine owned by the adapter;
// a handler must hand real work off rather than block for long.
type Handler func(channel string, payload []byte)

// PubSub is a thin capability layer over a broker's publish/subscribe
// primitive. One adapter owns one logical connection, shared by the client
// or server that created it. Reconnection is the backend's concern;
// transient failures surface as errors from Publish and Subscribe, and no
// retry happens at this layer.
//
// Multiple goroutines may invoke methods on a PubSub simultaneously.
type PubSub interface {
	// Publish sends payload on the channel, returning once the broker has
	// accepted the message.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe installs handler for the channel, returning once the
	// subscription is active. A channel holds at most one handler.
	Subscribe(ctx context.Context, channel string, handler Handler) error

	// Unsubscribe removes the channel's handler, returning when delivery
	// has quiesced.
	Unsubscribe(ctx context.Context, channel string) error

	// Close tears down every subscription and the underlying connection.
	Close() error
}
