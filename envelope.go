// Package redisrpc implements a remote procedure call fabric on top of a
// key-value store's publish/subscribe primitive. Clients invoke named
// methods on servers identified only by a logical channel name; neither side
// knows the other's network address. Request/response correlation, fire and
// forget notifications, timeouts and a bounded server work pool are handled
// here; the pub/sub primitive itself is pluggable (see the transport
// subpackages).
package redisrpc

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/srand/redisrpc/serialization"
)

// Request is the envelope published on a request channel. Immutable once
// built.
type Request struct {
	// ID is the globally unique correlation key.
	ID string `json:"id"`

	// Method is the logical method name on the target service.
	Method string `json:"method"`

	// Parameters is the raw JSON parameter value; its interpretation is the
	// handler's responsibility.
	Parameters json.RawMessage `json:"parameters,omitempty"`

	// ResponseChannel is the channel the caller awaits the response on.
	// Empty iff the request is a notification.
	ResponseChannel string `json:"responseChannel"`

	// Timestamp is the construction time in ISO-8601 UTC. Informational.
	Timestamp string `json:"timestamp"`

	// TimeoutMs is an advisory hint telling the server how long the caller
	// is prepared to wait.
	TimeoutMs int64 `json:"timeoutMs,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ResponseChannel == ""
}

// Response is the envelope published on a response channel. Immutable.
type Response struct {
	// ID equals the originating request's ID.
	ID string `json:"id"`

	// Success is true iff Result carries the handler's return value.
	Success bool `json:"success"`

	// Result is the raw JSON result. Only meaningful when Success is true;
	// coerce it into a concrete type with serialization.As.
	Result json.RawMessage `json:"result,omitempty"`

	// Error describes the failure when Success is false.
	Error *Error `json:"error,omitempty"`

	// Timestamp is the construction time in ISO-8601 UTC.
	Timestamp string `json:"timestamp"`
}

// NewRequest builds a request envelope with a fresh correlation id. The
// parameter value is serialized immediately so encoding failures surface at
// the call site.
func NewRequest(method string, params any, responseChannel string, timeout time.Duration) (*Request, error) {
	raw, err := serialization.Raw(params)
	if err != nil {
		return nil, NewSerializationError(err.Error())
	}

	req := &Request{
		ID:              uuid.New().String(),
		Method:          method,
		Parameters:      raw,
		ResponseChannel: responseChannel,
		Timestamp:       wireTimestamp(),
	}
	if timeout > 0 {
		req.TimeoutMs = timeout.Milliseconds()
	}
	return req, nil
}

// NewResponse builds a success response for the given request id.
func NewResponse(id string, result any) (*Response, error) {
	raw, err := serialization.Raw(result)
	if err != nil {
		return nil, NewSerializationError(err.Error())
	}

	return &Response{
		ID:        id,
		Success:   true,
		Result:    raw,
		Timestamp: wireTimestamp(),
	}, nil
}

// NewErrorResponse builds a failure response for the given request id.
func NewErrorResponse(id string, rpcErr *Error) *Response {
	return &Response{
		ID:        id,
		Success:   false,
		Error:     rpcErr,
		Timestamp: wireTimestamp(),
	}
}

func wireTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// peekResponseChannel extracts the response channel from a request payload
// that failed full decoding, so a serialization error can still be reported
// to the caller. Returns "" when nothing can be recovered.
func peekResponseChannel(serializer serialization.Serializer, payload []byte) string {
	var probe struct {
		ResponseChannel string `json:"responseChannel"`
	}
	if err := serializer.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ResponseChannel
}
