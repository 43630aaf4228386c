// Package inmem implements the transport.PubSub adapter over an in-process
// bus. It exists for tests and for embedding a client and server in one
// binary without a broker; every publish fans out to all subscribers of the
// channel, exactly like Redis channels.
package inmem

import (
	"context"
	"sync"

	"github.com/srand/redisrpc/transport"
)

// Bus is an in-process message broker. Create one Bus and connect every
// client and server to it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*conn]transport.Handler
	closed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*conn]transport.Handler)}
}

// Connect returns a pub/sub adapter attached to the bus. Closing the
// adapter removes its subscriptions but leaves the bus running.
func (b *Bus) Connect() transport.PubSub {
	return &conn{bus: b, channels: make(map[string]struct{})}
}

func (b *Bus) publish(channel string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return transport.ErrClosed
	}
	handlers := make([]transport.Handler, 0, len(b.subs[channel]))
	for _, h := range b.subs[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	// Deliver asynchronously, like a broker: Publish returns once the bus
	// has accepted the message, not once subscribers have seen it.
	for _, h := range handlers {
		go h(channel, payload)
	}
	return nil
}

func (b *Bus) subscribe(c *conn, channel string, handler transport.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return transport.ErrClosed
	}
	if _, ok := b.subs[channel][c]; ok {
		return transport.ErrAlreadySubscribed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*conn]transport.Handler)
	}
	b.subs[channel][c] = handler
	return nil
}

func (b *Bus) unsubscribe(c *conn, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[channel][c]; !ok {
		return transport.ErrNotSubscribed
	}
	delete(b.subs[channel], c)
	if len(b.subs[channel]) == 0 {
		delete(b.subs, channel)
	}
	return nil
}

// Close shuts the bus down; all connected adapters stop delivering.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[*conn]transport.Handler)
	return nil
}

type conn struct {
	bus *Bus

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

var _ transport.PubSub = (*conn)(nil)

func (c *conn) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.mu.Unlock()
	return c.bus.publish(channel, payload)
}

func (c *conn) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if err := c.bus.subscribe(c, channel, handler); err != nil {
		return err
	}
	c.channels[channel] = struct{}{}
	return nil
}

// Unsubscribe removes the channel's handler from the bus. Messages published
// before the call may already have started their handler goroutines; those
// can still be running when Unsubscribe returns.
func (c *conn) Unsubscribe(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
	return c.bus.unsubscribe(c, channel)
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for channel := range c.channels {
		_ = c.bus.unsubscribe(c, channel)
	}
	c.channels = make(map[string]struct{})
	return nil
}
