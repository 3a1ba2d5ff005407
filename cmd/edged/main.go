package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/edgecache/abi"
	"github.com/wippyai/edgecache/config"
	"github.com/wippyai/edgecache/memhost"
	"github.com/wippyai/edgecache/server"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to YAML configuration")
		listen      = flag.String("listen", "", "Listen address (overrides config)")
		logLevel    = flag.String("log-level", "", "Log level (overrides config)")
		guestFile   = flag.String("guest", "", "Core wasm guest to run against the host at startup")
		interactive = flag.Bool("i", false, "Interactive cache console")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile, *listen, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *interactive && !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "Usage: edged -i needs a terminal on stdin")
		os.Exit(1)
	}

	if err := run(cfg, *configFile, *guestFile, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path, listen, level string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if level != "" {
		cfg.LogLevel = level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger builds a development logger at debug level and a production
// one otherwise. The console writes to a file so it does not tear the TUI.
func newLogger(cfg *config.Config, interactive bool) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Level() == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	if interactive {
		zc.OutputPaths = []string{"edged.log"}
		zc.ErrorOutputPaths = []string{"edged.log"}
	}
	return zc.Build()
}

func run(cfg *config.Config, configFile, guestFile string, interactive bool) error {
	logger, err := newLogger(cfg, interactive)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	memhost.SetLogger(logger.Named("host"))
	config.SetLogger(logger.Named("config"))
	abi.SetLogger(logger.Named("abi"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	host := memhost.New(memhost.Config{
		Logger:        logger.Named("host"),
		Registerer:    reg,
		StaleIfError:  cfg.Cache.StaleIfError.Std(),
		MaxWriteChunk: cfg.Cache.MaxWriteChunk,
		KVLatency:     cfg.KVLatency.Std(),
		Backends:      cfg.Backends,
	})
	defer host.Close()
	if err := cfg.Apply(host); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if guestFile != "" {
		if err := runGuest(ctx, host, guestFile, logger); err != nil {
			return err
		}
	}

	if configFile != "" {
		w, err := config.NewWatcher(configFile, func(c *config.Config) {
			c.ApplyDictionaries(host)
			logger.Info("dictionaries reloaded", zap.Int("count", len(c.Dictionaries)))
		})
		if err != nil {
			return err
		}
		defer w.Close()
		go w.Run(ctx)
	}

	handler := server.New(host, server.Options{
		Backend:    cfg.Backend,
		DefaultTTL: cfg.Cache.DefaultTTL.Std(),
		Logger:     logger.Named("server"),
		Registerer: reg,
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/", handler)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("backend", cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	if interactive {
		err = runInteractive(host, cfg.Listen)
		stop()
	} else {
		select {
		case <-ctx.Done():
		case err = <-errc:
		}
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdown); serr != nil {
		logger.Warn("shutdown", zap.Error(serr))
	}
	return err
}

// runGuest instantiates the host modules and a core wasm guest. The
// guest's start function runs against the same host the server uses, so a
// guest can warm the cache or seed stores before traffic arrives.
func runGuest(ctx context.Context, host *memhost.Host, path string, logger *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read guest: %w", err)
	}
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	exp := abi.New(host, abi.WithLogger(logger.Named("abi")))
	if _, err := exp.Instantiate(ctx, rt); err != nil {
		return fmt.Errorf("host modules: %w", err)
	}
	mod, err := rt.InstantiateWithConfig(ctx, data, wazero.NewModuleConfig().
		WithName("guest").
		WithStdout(os.Stderr).
		WithStderr(os.Stderr))
	var exit *sys.ExitError
	if errors.As(err, &exit) && exit.ExitCode() == 0 {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("run guest: %w", err)
	}
	if mod != nil {
		defer mod.Close(ctx)
	}
	logger.Info("guest finished", zap.String("path", path), zap.Int("open_handles", host.Handles()))
	return nil
}
