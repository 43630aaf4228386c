package redisrpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/srand/redisrpc/serialization"
	"github.com/srand/redisrpc/transport"
	tredis "github.com/srand/redisrpc/transport/redis"
)

// Server dispatches requests arriving on a set of logical channels to
// registered handlers and publishes the responses. Handler invocations run
// on a bounded worker pool; when the pool is saturated, inbound dispatch
// blocks, which is the fabric's backpressure point.
//
// Multiple goroutines may invoke methods on a Server simultaneously.
type Server struct {
	opts       *Options
	pubsub     transport.PubSub
	ownsPubSub bool
	serializer serialization.Serializer
	pool       *ants.Pool
	log        Logger

	// handlers maps lower-cased method names to their handler. The last
	// registration for a name wins.
	handlersMu sync.RWMutex
	handlers   map[string]Handler

	// listening is the set of logical channels currently subscribed.
	listenMu  sync.Mutex
	listening map[string]struct{}

	closed atomic.Bool
}

// NewServer returns a server. Unless WithPubSub supplies a transport, a
// Redis connection is established from the configured connection string.
// The worker pool is sized to MaxConcurrentRequests.
func NewServer(opts ...Option) (*Server, error) {
	options := newOptions(opts...)

	pool, err := ants.NewPool(options.MaxConcurrentRequests)
	if err != nil {
		return nil, err
	}

	pubsub := options.PubSub
	ownsPubSub := false
	if pubsub == nil {
		pubsub, err = tredis.New(
			transport.WithAddress(options.ConnectionString),
			transport.WithDatabase(options.Database),
			transport.WithTLSConfig(options.TLSConfig),
		)
		if err != nil {
			pool.Release()
			return nil, err
		}
		ownsPubSub = true
	}

	return &Server{
		opts:       options,
		pubsub:     pubsub,
		ownsPubSub: ownsPubSub,
		serializer: serialization.NewJSONSerializer(),
		pool:       pool,
		log:        options.Logger,
		handlers:   make(map[string]Handler),
		listening:  make(map[string]struct{}),
	}, nil
}

// RegisterHandler installs h for every method it claims, replacing any
// previous registration for the same name. Re-registering is safe at any
// time, including while listening.
func (s *Server) RegisterHandler(h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	for _, method := range h.Methods() {
		s.handlers[strings.ToLower(method)] = h
	}
}

// Listen subscribes to the request channel of every named logical channel.
// Channels already being listened on are skipped. On a subscription
// failure the remaining channels are not attempted and the failed channel
// is not recorded.
func (s *Server) Listen(ctx context.Context, channels ...string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	for _, channel := range channels {
		if channel == "" {
			return ErrEmptyChannel
		}

		s.listenMu.Lock()
		_, active := s.listening[channel]
		s.listenMu.Unlock()
		if active {
			continue
		}

		if err := s.pubsub.Subscribe(ctx, requestChannel(s.opts.ChannelPrefix, channel), s.onRequest); err != nil {
			return connError(err, fmt.Sprintf("subscribe channel %s", channel))
		}

		s.listenMu.Lock()
		s.listening[channel] = struct{}{}
		s.listenMu.Unlock()
	}
	return nil
}

// StopListening unsubscribes every channel in the listening set and clears
// it. In-flight handlers run to completion.
func (s *Server) StopListening(ctx context.Context) error {
	s.listenMu.Lock()
	channels := make([]string, 0, len(s.listening))
	for channel := range s.listening {
		channels = append(channels, channel)
	}
	s.listening = make(map[string]struct{})
	s.listenMu.Unlock()

	var firstErr error
	for _, channel := range channels {
		if err := s.pubsub.Unsubscribe(ctx, requestChannel(s.opts.ChannelPrefix, channel)); err != nil {
			s.log.Warnf("unsubscribe %s: %v", channel, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close stops listening, releases the worker pool and releases the transport
// if this server created it. Releasing the pool does not wait for handlers
// that are already running. Close is idempotent.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.StopListening(ctx)

	s.pool.Release()

	if s.ownsPubSub {
		if cerr := s.pubsub.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// onRequest runs on the transport's per-subscription dispatch goroutine.
// Submitting to the pool blocks while all permits are busy, so saturation
// backs up the subscription instead of spawning unbounded work. The
// transport keeps accepting and buffering messages according to its own
// policy.
func (s *Server) onRequest(_ string, payload []byte) {
	if s.closed.Load() {
		return
	}
	if err := s.pool.Submit(func() { s.dispatch(payload) }); err != nil {
		s.log.Warnf("dropping request: %v", err)
	}
}

// dispatch handles one inbound request on a pool worker.
func (s *Server) dispatch(payload []byte) {
	var req Request
	if err := s.serializer.Unmarshal(payload, &req); err != nil {
		// Report over the wire if the response channel survived the
		// damage, otherwise all we can do is log.
		if rc := peekResponseChannel(s.serializer, payload); rc != "" {
			s.respond(rc, NewErrorResponse("", NewSerializationError(err.Error())))
		} else {
			s.log.Warnf("dropping undecodable request: %v", err)
		}
		return
	}

	resp := s.handle(&req)

	if req.IsNotification() {
		if !resp.Success && resp.Error != nil {
			s.log.Warnf("notification %s failed: %s", req.Method, resp.Error.Message)
		}
		return
	}
	s.respond(req.ResponseChannel, resp)
}

// handle invokes the handler for req under the per-request deadline and
// translates the outcome into a response envelope.
func (s *Server) handle(req *Request) *Response {
	deadline := s.opts.DefaultTimeout
	if req.TimeoutMs > 0 {
		if hint := time.Duration(req.TimeoutMs) * time.Millisecond; hint < deadline {
			deadline = hint
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	s.handlersMu.RLock()
	handler, ok := s.handlers[strings.ToLower(req.Method)]
	s.handlersMu.RUnlock()
	if !ok {
		return NewErrorResponse(req.ID, NewMethodNotFound(req.Method))
	}

	result, err := s.invoke(ctx, handler, req)
	if err != nil {
		// Copy before touching the stack trace; the handler may have
		// returned a shared sentinel error.
		rpcErr := *wireError(err)
		if s.opts.IncludeStackTraceInErrors {
			if rpcErr.StackTrace == "" {
				rpcErr.StackTrace = fmt.Sprintf("%+v", err)
			}
		} else {
			rpcErr.StackTrace = ""
		}
		return NewErrorResponse(req.ID, &rpcErr)
	}

	resp, err := NewResponse(req.ID, result)
	if err != nil {
		return NewErrorResponse(req.ID, wireError(err))
	}
	return resp
}

// invoke calls the handler, converting a panic into an internal error.
func (s *Server) invoke(ctx context.Context, handler Handler, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			rpcErr := NewInternalError(fmt.Sprintf("handler panic: %v", r), fmt.Sprintf("%T", r))
			if s.opts.IncludeStackTraceInErrors {
				rpcErr.StackTrace = string(debug.Stack())
			}
			result, err = nil, rpcErr
		}
	}()
	return handler.Handle(ctx, req.Method, req.Parameters)
}

// respond publishes a response envelope. Failures are logged and otherwise
// swallowed; there is nowhere left to report them.
func (s *Server) respond(channel string, resp *Response) {
	if channel == "" {
		return
	}

	payload, err := s.serializer.Marshal(resp)
	if err != nil {
		s.log.Errorf("encode response %s: %v", resp.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DefaultTimeout)
	defer cancel()
	if err := s.pubsub.Publish(ctx, channel, payload); err != nil {
		s.log.Errorf("publish response %s: %v", resp.ID, err)
	}
}
