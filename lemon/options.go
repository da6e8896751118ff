package lemon

import (
	"log/slog"

	"github.com/roach88/lemonstate/devtools"
	"github.com/roach88/lemonstate/internal/engine"
)

// Engine is the evaluation context shared by stores that read each other.
type Engine = engine.Engine

// EngineOption configures an Engine.
type EngineOption = engine.Option

// Observer receives engine pass events; see internal/telemetry for
// Prometheus and OpenTelemetry implementations.
type Observer = engine.Observer

// PassStats summarizes a propagation pass.
type PassStats = engine.PassStats

// NewEngine creates an isolated engine. Stores on different engines
// cannot read each other.
func NewEngine(opts ...EngineOption) *Engine {
	return engine.New(opts...)
}

// DefaultEngine returns the process-wide engine used when no WithEngine
// option is given.
func DefaultEngine() *Engine {
	return engine.Default()
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return engine.WithLogger(logger)
}

// WithObserver attaches engine observers.
func WithObserver(observers ...Observer) EngineOption {
	return engine.WithObserver(observers...)
}

// Config is the identity and debug configuration of a store.
type Config struct {
	Name  string
	Debug bool

	// Connector opens the devtools bridge when Debug is set.
	Connector devtools.Connector
}

// DefaultConfig is used by NewActionStore when no name is given.
var DefaultConfig = Config{Name: "DefaultStore", Debug: false}

type options struct {
	config Config
	engine *engine.Engine
	logger *slog.Logger
}

// Option configures a store.
type Option func(*options)

// WithName names the store in errors and devtools.
func WithName(name string) Option {
	return func(o *options) {
		o.config.Name = name
	}
}

// WithEngine places the store on e instead of the default engine.
func WithEngine(e *Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// WithLogger sets the store logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithConfig applies a whole Config. Empty names keep the default.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		name := o.config.Name
		o.config = cfg
		if cfg.Name == "" {
			o.config.Name = name
		}
	}
}

// WithDevtools enables debugging through connector.
func WithDevtools(connector devtools.Connector) Option {
	return func(o *options) {
		o.config.Debug = true
		o.config.Connector = connector
	}
}

func buildOptions(defaultName string, opts []Option) options {
	o := options{config: Config{Name: defaultName}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.config.Name == "" {
		o.config.Name = defaultName
	}
	if o.engine == nil {
		o.engine = engine.Default()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
