package redisrpc

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// DefaultChannelPrefix namespaces every channel this library touches.
const DefaultChannelPrefix = "redis-rpc"

// requestChannel returns the channel servers listen on for a logical
// channel name: {prefix}:request:{channel}.
func requestChannel(prefix, channel string) string {
	return prefix + ":request:" + channel
}

// newResponseChannel returns a channel name owned by exactly one client:
// {prefix}:response:{host}:{pid}:{token}. The token is 32 hex characters,
// so two clients in the same process never collide.
func newResponseChannel(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	token := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s:response:%s:%d:%s", prefix, host, os.Getpid(), token)
}
