package executor

import (
	"time"

	"github.com/caffeineduck/gosnip/compiler"
	"github.com/caffeineduck/gosnip/language/golang"
	"github.com/rs/zerolog"
)

// Option configures a Governor at creation time.
type Option func(*config)

type config struct {
	workDir        string
	sampleInterval time.Duration
	probe          MemoryProbe
	logger         zerolog.Logger
	flags          compiler.Flags
	lang           Language
	shutdownGrace  time.Duration
	cancelGrace    time.Duration // bounded wait for the worker after a cancel
}

func defaultConfig() config {
	return config{
		sampleInterval: 100 * time.Millisecond,
		logger:         zerolog.Nop(),
		flags:          compiler.DefaultFlags(),
		lang:           golang.New(),
		shutdownGrace:  3 * time.Second,
		cancelGrace:    50 * time.Millisecond,
	}
}

// WithWorkDir sets the directory session directories are created under.
// By default a private directory under os.TempDir is created and removed on
// Shutdown.
func WithWorkDir(dir string) Option {
	return func(c *config) {
		c.workDir = dir
	}
}

// WithSampleInterval sets how often memory is sampled. Non-positive values
// are ignored.
func WithSampleInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sampleInterval = d
		}
	}
}

// WithMemoryProbe replaces the default probe: the runner itself when it is
// a MemoryProbe, otherwise a RuntimeProbe.
func WithMemoryProbe(p MemoryProbe) Option {
	return func(c *config) {
		c.probe = p
	}
}

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithFlags overrides the compiler flags applied to every request.
func WithFlags(f compiler.Flags) Option {
	return func(c *config) {
		c.flags = f
	}
}

// WithLanguage replaces the Go source wrapper.
func WithLanguage(l Language) Option {
	return func(c *config) {
		c.lang = l
	}
}

// WithShutdownGrace sets how long Shutdown waits for an in-flight run before
// cancelling it.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *config) {
		c.shutdownGrace = d
	}
}

// WithCancelGrace sets how long a cancelled run waits for the worker to
// acknowledge before cleanup proceeds anyway.
func WithCancelGrace(d time.Duration) Option {
	return func(c *config) {
		c.cancelGrace = d
	}
}
