package redisrpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srand/redisrpc/serialization"
	"github.com/srand/redisrpc/transport"
	tredis "github.com/srand/redisrpc/transport/redis"
)

// Client issues requests and notifications to servers listening on logical
// channels. One client owns one response channel for its whole lifetime and
// multiplexes every in-flight request over it, correlated by request id.
//
// Multiple goroutines may invoke methods on a Client simultaneously.
type Client struct {
	opts       *Options
	pubsub     transport.PubSub
	ownsPubSub bool
	serializer serialization.Serializer

	// responseChannel is computed once at construction and never changes.
	responseChannel string

	pending *registry
	log     Logger

	// subscribeMu guards the lazy response-channel subscription; listening
	// is the double-checked fast path.
	subscribeMu sync.Mutex
	listening   atomic.Bool

	closed atomic.Bool
}

// NewClient returns a client. Unless WithPubSub supplies a transport, a
// Redis connection is established from the configured connection string.
func NewClient(opts ...Option) (*Client, error) {
	options := newOptions(opts...)

	pubsub := options.PubSub
	ownsPubSub := false
	if pubsub == nil {
		var err error
		pubsub, err = tredis.New(
			transport.WithAddress(options.ConnectionString),
			transport.WithDatabase(options.Database),
			transport.WithTLSConfig(options.TLSConfig),
		)
		if err != nil {
			return nil, err
		}
		ownsPubSub = true
	}

	return &Client{
		opts:            options,
		pubsub:          pubsub,
		ownsPubSub:      ownsPubSub,
		serializer:      serialization.NewJSONSerializer(),
		responseChannel: newResponseChannel(options.ChannelPrefix),
		pending:         newRegistry(),
		log:             options.Logger,
	}, nil
}

// ResponseChannel returns the channel this client's responses arrive on.
func (c *Client) ResponseChannel() string {
	return c.responseChannel
}

// Call invokes method on the given logical channel and returns the raw JSON
// result. Coerce it into a concrete type with serialization.As, or use the
// generic Call function for one-step typed calls.
//
// The call fails with a CodeTimeout error when no response arrives within
// the configured timeout, and with ctx.Err() when ctx is cancelled first.
func (c *Client) Call(ctx context.Context, channel, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	if err := c.check(channel, method); err != nil {
		return nil, err
	}

	var callOpts callOptions
	for _, opt := range opts {
		opt(&callOpts)
	}
	timeout := callOpts.timeout
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}

	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureListening(ctx); err != nil {
		return nil, err
	}

	req, err := NewRequest(method, params, c.responseChannel, timeout)
	if err != nil {
		return nil, err
	}

	// Register before publishing. The response can arrive before Publish
	// returns, and the listener must always find a slot to complete.
	slot, err := c.pending.register(req.ID)
	if err != nil {
		return nil, err
	}
	defer c.pending.remove(req.ID)

	if err := c.publish(ctx, requestChannel(c.opts.ChannelPrefix, channel), req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-slot.wait():
		if out.err != nil {
			return nil, out.err
		}
		if !out.resp.Success {
			if out.resp.Error != nil {
				return nil, out.resp.Error
			}
			return nil, NewError(CodeUnknown, "response carried neither result nor error")
		}
		return out.resp.Result, nil
	case <-timer.C:
		return nil, NewTimeout(timeout.Milliseconds())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify publishes a fire-and-forget request: no response channel, no
// registry entry, no waiting. It returns once the transport has accepted
// the message.
func (c *Client) Notify(ctx context.Context, channel, method string, params any) error {
	if err := c.check(channel, method); err != nil {
		return err
	}
	if err := c.throttle(ctx); err != nil {
		return err
	}

	req, err := NewRequest(method, params, "", 0)
	if err != nil {
		return err
	}
	return c.publish(ctx, requestChannel(c.opts.ChannelPrefix, channel), req)
}

// Close disposes the client: every outstanding call completes with
// ErrClosed, the response subscription is removed best-effort, and the
// transport is released if this client created it. Further calls fail with
// ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.pending.cancelAll(ErrClosed)

	if c.listening.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.pubsub.Unsubscribe(ctx, c.responseChannel); err != nil {
			c.log.Warnf("unsubscribe %s: %v", c.responseChannel, err)
		}
	}

	if c.ownsPubSub {
		return c.pubsub.Close()
	}
	return nil
}

func (c *Client) check(channel, method string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if channel == "" {
		return ErrEmptyChannel
	}
	if method == "" {
		return ErrEmptyMethod
	}
	return nil
}

func (c *Client) throttle(ctx context.Context) error {
	if c.opts.RateLimit == nil {
		return nil
	}
	return c.opts.RateLimit.Wait(ctx)
}

// ensureListening installs the response-channel subscription on first use.
func (c *Client) ensureListening(ctx context.Context) error {
	if c.listening.Load() {
		return nil
	}

	c.subscribeMu.Lock()
	defer c.subscribeMu.Unlock()

	if c.listening.Load() {
		return nil
	}
	if err := c.pubsub.Subscribe(ctx, c.responseChannel, c.onResponse); err != nil {
		return connError(err, "subscribe response channel")
	}
	c.listening.Store(true)
	return nil
}

func (c *Client) publish(ctx context.Context, channel string, req *Request) error {
	payload, err := c.serializer.Marshal(req)
	if err != nil {
		return NewSerializationError(err.Error())
	}
	if err := c.pubsub.Publish(ctx, channel, payload); err != nil {
		return connError(err, "publish request")
	}
	return nil
}

// onResponse handles every message on the response channel. Undecodable
// messages and responses with no matching slot are logged and dropped; one
// bad message must not poison the channel.
func (c *Client) onResponse(_ string, payload []byte) {
	var resp Response
	if err := c.serializer.Unmarshal(payload, &resp); err != nil {
		c.log.Warnf("dropping undecodable response: %v", err)
		return
	}
	if !c.pending.complete(resp.ID, &resp) {
		c.log.Debugf("dropping stale response %s", resp.ID)
	}
}
