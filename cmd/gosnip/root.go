package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caffeineduck/gosnip/compiler"
	"github.com/caffeineduck/gosnip/executor"
	"github.com/caffeineduck/gosnip/internal/config"
	"github.com/caffeineduck/gosnip/loader"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfg    = config.Default()
	logger = zerolog.Nop()
)

// errFailed marks a run whose report was printed but whose outcome was not
// a success. It only sets the exit status.
var errFailed = errors.New("execution failed")

var rootCmd = &cobra.Command{
	Use:   "gosnip [file]",
	Short: "Compile and run Go snippets in a WebAssembly sandbox",
	Long: `gosnip - Run untrusted Go snippets safely using WebAssembly.

Snippets are compiled to wasip1 with the Go toolchain and executed in an
in-process wazero runtime with a wall-clock timeout and a memory ceiling.
A snippet without a main function is wrapped into one automatically.

Run code from files, inline strings, or stdin.`,
	Args:              cobra.MaximumNArgs(1),
	PersistentPreRunE: loadConfig,
	RunE:              runRun, // Default to run command behavior
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	// Add persistent flags that apply to multiple commands
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./gosnip.toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable compilation cache")
	rootCmd.PersistentFlags().String("toolchain-home", "", "Go toolchain root (default: go on PATH)")

	// Add run-specific flags to root (for default command)
	addRunFlags(rootCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		loaded.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("toolchain-home"); v != "" {
		loaded.Toolchain.Home = v
	}
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		loaded.Runtime.DiskCache = false
	}

	l, err := newLogger(loaded.Log)
	if err != nil {
		return err
	}

	cfg, logger = loaded, l
	return nil
}

func newLogger(c config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}

	var l zerolog.Logger
	if c.Format == "json" {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return l.Level(level).With().Timestamp().Logger(), nil
}

// buildGovernor wires the compiler, loader and governor from cfg. Tests
// replace it to avoid needing a toolchain.
var buildGovernor = func(memoryPages uint32) (*executor.Governor, func(), error) {
	if err := prepareToolchain(); err != nil {
		return nil, nil, err
	}

	backend := compiler.NewGoBackend()
	if cfg.Toolchain.CacheDir != "" {
		backend.CacheDir = cfg.Toolchain.CacheDir
	}

	pages := cfg.Runtime.MemoryLimitPages
	if memoryPages > 0 {
		pages = memoryPages
	}
	loaderOpts := []loader.Option{loader.WithMemoryLimit(pages)}
	if cfg.Runtime.DiskCache {
		loaderOpts = append(loaderOpts, loader.WithDiskCache())
	}

	ld, err := loader.New(loaderOpts...)
	if err != nil {
		return nil, nil, err
	}

	gov, err := executor.New(compiler.NewInvoker(backend), ld, executor.WithLogger(logger))
	if err != nil {
		ld.Close()
		return nil, nil, err
	}

	cleanup := func() {
		ctx, cancel := shutdownContext()
		defer cancel()
		if err := gov.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("governor shutdown")
		}
		ld.Close()
	}
	return gov, cleanup, nil
}

// prepareToolchain unpacks the configured bundle once and publishes the
// toolchain home for the rest of the process.
func prepareToolchain() error {
	home := cfg.Toolchain.Home
	if cfg.Toolchain.Bundle != "" {
		dest := home
		if dest == "" {
			dest = defaultToolchainDir()
		}
		root, err := compiler.UnpackBundle(cfg.Toolchain.Bundle, dest)
		if err != nil {
			return fmt.Errorf("unpack toolchain bundle: %w", err)
		}
		home = root
	}
	if home != "" && compiler.SetHome(home) {
		logger.Debug().Str("home", home).Msg("toolchain home set")
	}
	return nil
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "16mb":
		return loader.MemoryLimit16MB
	case "64mb":
		return loader.MemoryLimit64MB
	case "256mb":
		return loader.MemoryLimit256MB
	case "1gb":
		return loader.MemoryLimit1GB
	default:
		return 0 // use config
	}
}
