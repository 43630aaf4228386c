// Package mqtt implements the transport.PubSub adapter on MQTT topics via
// the paho client, for deployments that already run an MQTT broker instead
// of Redis. Channel names map to topics verbatim.
package mqtt

import (
	"context"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/srand/redisrpc/transport"
)

type mqttPubSub struct {
	client  mqtt.Client
	options *transport.Options

	mu   sync.Mutex
	subs map[string]transport.Handler
	done bool
}

var _ transport.PubSub = (*mqttPubSub)(nil)

// New connects to an MQTT broker and returns a pub/sub adapter over it.
func New(opts ...transport.Option) (transport.PubSub, error) {
	options, err := transport.NewOptions(opts...)
	if err != nil {
		return nil, err
	}
	if options.Addr == "" {
		return nil, errors.New("mqtt: no address provided")
	}

	mqttOptions := mqtt.NewClientOptions()
	mqttOptions.AddBroker(options.Addr)
	mqttOptions.SetConnectTimeout(options.ConnectTimeout)
	mqttOptions.SetAutoReconnect(true)
	if options.TlsConfig != nil {
		mqttOptions.SetTLSConfig(options.TlsConfig)
	}

	p := &mqttPubSub{
		options: options,
		subs:    make(map[string]transport.Handler),
	}

	// Reinstall subscriptions after a broker reconnect; paho drops them
	// for non-persistent sessions.
	mqttOptions.SetOnConnectHandler(func(client mqtt.Client) {
		p.mu.Lock()
		subs := make(map[string]transport.Handler, len(p.subs))
		for channel, handler := range p.subs {
			subs[channel] = handler
		}
		p.mu.Unlock()

		for channel, handler := range subs {
			p.subscribe(channel, handler)
		}
		for _, f := range options.OnConnect {
			f(p)
		}
	})

	p.client = mqtt.NewClient(mqttOptions)

	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqtt: connect")
	}
	return p, nil
}

func (p *mqttPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	token := p.client.Publish(channel, 0, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return errors.Wrapf(err, "mqtt: publish %s", channel)
	}
	return nil
}

func (p *mqttPubSub) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return transport.ErrClosed
	}
	if _, ok := p.subs[channel]; ok {
		p.mu.Unlock()
		return transport.ErrAlreadySubscribed
	}
	p.subs[channel] = handler
	p.mu.Unlock()

	token := p.subscribe(channel, handler)
	if err := waitToken(ctx, token); err != nil {
		p.mu.Lock()
		delete(p.subs, channel)
		p.mu.Unlock()
		return errors.Wrapf(err, "mqtt: subscribe %s", channel)
	}
	return nil
}

func (p *mqttPubSub) subscribe(channel string, handler transport.Handler) mqtt.Token {
	return p.client.Subscribe(channel, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
}

func (p *mqttPubSub) Unsubscribe(ctx context.Context, channel string) error {
	p.mu.Lock()
	_, ok := p.subs[channel]
	delete(p.subs, channel)
	p.mu.Unlock()

	if !ok {
		return transport.ErrNotSubscribed
	}

	token := p.client.Unsubscribe(channel)
	if err := waitToken(ctx, token); err != nil {
		return errors.Wrapf(err, "mqtt: unsubscribe %s", channel)
	}
	return nil
}

func (p *mqttPubSub) Close() error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	p.subs = make(map[string]transport.Handler)
	p.mu.Unlock()

	p.client.Disconnect(250)
	return nil
}

// waitToken bridges paho's token API into context-aware waiting.
func waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan error, 1)
	go func() {
		token.Wait()
		done <- token.Error()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
