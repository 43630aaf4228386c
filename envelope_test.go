package redisrpc

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srand/redisrpc/serialization"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("Add", map[string]int{"a": 10, "b": 5}, "resp-chan", 5*time.Second)
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "Add", req.Method)
	assert.Equal(t, "resp-chan", req.ResponseChannel)
	assert.EqualValues(t, 5000, req.TimeoutMs)
	assert.False(t, req.IsNotification())

	_, err = time.Parse(time.RFC3339Nano, req.Timestamp)
	assert.NoError(t, err)
}

func TestNewRequestUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		req, err := NewRequest("Add", nil, "", 0)
		require.NoError(t, err)
		assert.False(t, seen[req.ID])
		seen[req.ID] = true
	}
}

func TestRequestWireShape(t *testing.T) {
	req, err := NewRequest("Add", map[string]int{"a": 1}, "resp-chan", time.Second)
	require.NoError(t, err)

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &fields))

	assert.Contains(t, fields, "id")
	assert.Contains(t, fields, "method")
	assert.Contains(t, fields, "parameters")
	assert.Contains(t, fields, "responseChannel")
	assert.Contains(t, fields, "timestamp")
	assert.Contains(t, fields, "timeoutMs")
}

func TestRequestOmitsNullFields(t *testing.T) {
	req, err := NewRequest("Ping", nil, "", 0)
	require.NoError(t, err)

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	s := string(payload)
	assert.NotContains(t, s, "parameters")
	assert.NotContains(t, s, "timeoutMs")
	// The response channel marks a notification and is always present.
	assert.Contains(t, s, `"responseChannel":""`)
}

func TestRequestParametersRoundTrip(t *testing.T) {
	params := map[string]any{
		"number": 42.5,
		"text":   "hello",
		"flag":   true,
		"nested": map[string]any{"list": []any{1.0, 2.0, 3.0}},
	}

	req, err := NewRequest("Echo", params, "resp-chan", 0)
	require.NoError(t, err)

	payload, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	require.NoError(t, json.Unmarshal(payload, &decoded))

	got, err := serialization.As[map[string]any](decoded.Parameters)
	require.NoError(t, err)
	assert.Equal(t, params, got)
}

func TestRequestIgnoresUnknownFields(t *testing.T) {
	payload := `{"id":"x","method":"Add","responseChannel":"rc","timestamp":"t","futureField":123}`

	var req Request
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	assert.Equal(t, "x", req.ID)
	assert.Equal(t, "Add", req.Method)
}

func TestResponseWireShape(t *testing.T) {
	resp, err := NewResponse("id-1", 15)
	require.NoError(t, err)

	payload, err := json.Marshal(resp)
	require.NoError(t, err)

	s := string(payload)
	assert.Contains(t, s, `"id":"id-1"`)
	assert.Contains(t, s, `"success":true`)
	assert.Contains(t, s, `"result":15`)
	assert.NotContains(t, s, "error")
}

func TestErrorResponseWireShape(t *testing.T) {
	resp := NewErrorResponse("id-1", NewInvalidParameters("Division by zero is not allowed",
		map[string]any{"Dividend": 10, "Divisor": 0}))

	payload, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.False(t, decoded.Success)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, CodeInvalidParameters, decoded.Error.Code)
	assert.Equal(t, "Division by zero is not allowed", decoded.Error.Message)
	assert.Nil(t, decoded.Result)

	// The stack trace field stays off the wire unless set.
	assert.NotContains(t, string(payload), "stackTrace")
}

func TestResponseNilResult(t *testing.T) {
	resp, err := NewResponse("id-1", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	payload, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "result")
}

func TestPeekResponseChannel(t *testing.T) {
	serializer := serialization.NewJSONSerializer()

	// id has the wrong type, so the strict decode fails but the response
	// channel is still recoverable.
	payload := []byte(`{"id":5,"method":"Add","responseChannel":"resp-chan"}`)
	var req Request
	require.Error(t, serializer.Unmarshal(payload, &req))
	assert.Equal(t, "resp-chan", peekResponseChannel(serializer, payload))

	assert.Empty(t, peekResponseChannel(serializer, []byte("not json")))
	assert.Empty(t, peekResponseChannel(serializer, []byte(`{"method":"Add"}`)))
}

func TestRequestChannelName(t *testing.T) {
	assert.Equal(t, "redis-rpc:request:calculator", requestChannel("redis-rpc", "calculator"))
	assert.Equal(t, "custom:request:data", requestChannel("custom", "data"))
}

func TestResponseChannelName(t *testing.T) {
	name := newResponseChannel("redis-rpc")

	parts := strings.Split(name, ":")
	require.Len(t, parts, 5)
	assert.Equal(t, "redis-rpc", parts[0])
	assert.Equal(t, "response", parts[1])
	assert.NotEmpty(t, parts[2])
	assert.NotEmpty(t, parts[3])
	assert.Len(t, parts[4], 32)

	// Unique per call.
	assert.NotEqual(t, name, newResponseChannel("redis-rpc"))
}
