package redisrpc

import "log"

// Logger is the logging interface used throughout the library. Plug in any
// implementation with WithLogger; the default writes to the standard log
// package.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type stdLogger struct{}

func (stdLogger) Debugf(format string, args ...any) {
	log.Printf("[redisrpc] "+format, args...)
}

func (stdLogger) Infof(format string, args ...any) {
	log.Printf("[redisrpc] "+format, args...)
}

func (stdLogger) Warnf(format string, args ...any) {
	log.Printf("[redisrpc] "+format, args...)
}

func (stdLogger) Errorf(format string, args ...any) {
	log.Printf("[redisrpc] "+format, args...)
}
