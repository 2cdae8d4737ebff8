package engine

import (
	"time"

	"go.uber.org/zap"
)

// DefaultCacheSize is the default number of memoized reconstructions.
const DefaultCacheSize = 1024

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the engine collectors. The default is an unregistered set.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNow sets the time source used for transaction issue times.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCacheSize sets the reconstruction cache size. Zero or less disables
// the cache.
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithHandleGenerator sets the unit-of-work handle source.
func WithHandleGenerator(g HandleGenerator) Option {
	return func(e *Engine) {
		if g != nil {
			e.handles = g
		}
	}
}

// UnitOption configures a UnitOfWork.
type UnitOption func(*UnitOfWork)

// WithActor records the user responsible for the unit's changes.
func WithActor(actor string) UnitOption {
	return func(u *UnitOfWork) {
		u.actor = actor
	}
}

// WithRemoteAddr records the client address the unit's changes came from.
func WithRemoteAddr(addr string) UnitOption {
	return func(u *UnitOfWork) {
		u.remoteAddr = addr
	}
}
