// Package redis implements the transport.PubSub adapter on Redis channels
// using go-redis. The driver reconnects transparently; a subscription
// survives a broker restart without the fabric noticing.
package redis

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/srand/redisrpc/transport"
)

type redisPubSub struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*subscription
	done bool
}

var _ transport.PubSub = (*redisPubSub)(nil)

// subscription owns one Redis pub/sub connection and the goroutine that
// drains it into the handler.
type subscription struct {
	ps     *redis.PubSub
	closed chan struct{}
}

// New connects to a Redis endpoint and returns a pub/sub adapter over it.
func New(opts ...transport.Option) (transport.PubSub, error) {
	options, err := transport.NewOptions(opts...)
	if err != nil {
		return nil, err
	}
	if options.Addr == "" {
		return nil, errors.New("redis: no address provided")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        options.Addr,
		DB:          options.Database,
		DialTimeout: options.ConnectTimeout,
		TLSConfig:   options.TlsConfig,
	})

	p := &redisPubSub{
		client: client,
		subs:   make(map[string]*subscription),
	}

	for _, f := range options.OnConnect {
		f(p)
	}
	return p, nil
}

func (p *redisPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "redis: publish %s", channel)
	}
	return nil
}

func (p *redisPubSub) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return transport.ErrClosed
	}
	if _, ok := p.subs[channel]; ok {
		p.mu.Unlock()
		return transport.ErrAlreadySubscribed
	}
	p.mu.Unlock()

	ps := p.client.Subscribe(ctx, channel)

	// Receive the subscription confirmation so the caller knows delivery
	// is active before it publishes anything that expects a reply.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errors.Wrapf(err, "redis: subscribe %s", channel)
	}

	sub := &subscription{ps: ps, closed: make(chan struct{})}

	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		_ = ps.Close()
		return transport.ErrClosed
	}
	if p.subs[channel] != nil {
		p.mu.Unlock()
		_ = ps.Close()
		return transport.ErrAlreadySubscribed
	}
	p.subs[channel] = sub
	p.mu.Unlock()

	go func() {
		defer close(sub.closed)
		for msg := range ps.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()

	return nil
}

func (p *redisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	p.mu.Lock()
	sub, ok := p.subs[channel]
	delete(p.subs, channel)
	p.mu.Unlock()

	if !ok {
		return transport.ErrNotSubscribed
	}

	err := sub.ps.Unsubscribe(ctx, channel)
	_ = sub.ps.Close()
	<-sub.closed
	if err != nil {
		return errors.Wrapf(err, "redis: unsubscribe %s", channel)
	}
	return nil
}

func (p *redisPubSub) Close() error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	subs := p.subs
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()

	for _, sub := range subs {
		_ = sub.ps.Close()
		<-sub.closed
	}
	return p.client.Close()
}
