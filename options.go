package handshake

import (
	"github.com/joeycumines/logiface"
)

// engineOptions holds configuration options for Engine creation.
type engineOptions struct {
	logger *logiface.Logger[logiface.Event]
	hooks  Hooks
}

// Option configures an Engine instance.
type Option interface {
	applyEngine(*engineOptions) error
}

// engineOptionImpl implements Option.
type engineOptionImpl struct {
	applyEngineFunc func(*engineOptions) error
}

func (x *engineOptionImpl) applyEngine(opts *engineOptions) error {
	return x.applyEngineFunc(opts)
}

// WithLogger attaches a structured logger to the engine. Events are emitted
// at debug level on the post, registration, and exit paths, never on the
// poll fast path. A nil logger disables logging (the default).
//
// Loggers built against a concrete logiface backend can be generified via
// their Logger() method.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithHooks installs the host's polling hooks. See Hooks for field
// semantics; zero-value fields keep their defaults.
func WithHooks(hooks Hooks) Option {
	return &engineOptionImpl{func(opts *engineOptions) error {
		opts.hooks = hooks
		return nil
	}}
}

// resolveOptions applies Option instances to engineOptions.
func resolveOptions(opts []Option) (*engineOptions, error) {
	cfg := &engineOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyEngine(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
