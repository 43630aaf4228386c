package redisrpc

import (
	"context"

	"github.com/srand/redisrpc/serialization"
)

// Call invokes method on the given logical channel and coerces the result
// into T. It is the typed form of Client.Call:
//
//	sum, err := redisrpc.Call[int](ctx, client, "calculator", "Add", args)
func Call[T any](ctx context.Context, c *Client, channel, method string, params any, opts ...CallOption) (T, error) {
	var zero T

	raw, err := c.Call(ctx, channel, method, params, opts...)
	if err != nil {
		return zero, err
	}

	result, err := serialization.As[T](raw)
	if err != nil {
		return zero, NewSerializationError(err.Error())
	}
	return result, nil
}
