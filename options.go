package tokenring

import (
	"io"
	"log/slog"
	"time"
)

// options configures the Engine behavior (internal only).
type options struct {
	role        Role
	baseTimeout time.Duration
	sendTimeout time.Duration
	lapPause    time.Duration
	retryPause  time.Duration
	renderer    Renderer
	logger      *slog.Logger
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	return options{
		role:        RoleMid,
		baseTimeout: 10 * time.Second,
		sendTimeout: 2 * time.Second,
		lapPause:    3 * time.Second,
		retryPause:  2 * time.Second,
		renderer:    nopRenderer{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option is a functional option for configuring an Engine.
type Option func(*options)

// WithRole sets the node role. Only RoleStart initiates round 1.
// DEFAULT: RoleMid
func WithRole(role Role) Option {
	return func(o *options) {
		o.role = role
	}
}

// WithBaseTimeout sets the inbound wait unit. A node at ring index i waits
// base*(i+1) for a token before re-initiating the lap.
func WithBaseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.baseTimeout = d
	}
}

// WithSendTimeout sets the per-attempt bound on delivering a token to a successor.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) {
		o.sendTimeout = d
	}
}

// WithLapPause sets how long a node waits after completing a lap before
// pushing the next round's token.
func WithLapPause(d time.Duration) Option {
	return func(o *options) {
		o.lapPause = d
	}
}

// WithRetryPause sets the pause after re-initiating a lap or probing for peers.
func WithRetryPause(d time.Duration) Option {
	return func(o *options) {
		o.retryPause = d
	}
}

// WithRenderer sets the collaborator that receives every completed lap.
// DEFAULT: laps are not rendered
func WithRenderer(r Renderer) Option {
	return func(o *options) {
		if r == nil {
			o.renderer = nopRenderer{}
			return
		}
		o.renderer = r
	}
}

// WithLogger sets the logger for the engine.
// If the logger is nil, the engine will use a no-op logger.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}
