// Command mdm-server builds and serves partition snapshots of the
// master-data store over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/yndnr/mdmcache-go/internal/infra/buildinfo"
	"github.com/yndnr/mdmcache-go/internal/infra/confloader"
	"github.com/yndnr/mdmcache-go/internal/infra/shutdown"
	"github.com/yndnr/mdmcache-go/internal/server/config"
	"github.com/yndnr/mdmcache-go/internal/server/httpserver"
	"github.com/yndnr/mdmcache-go/internal/telemetry/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mdm-server %s\n", buildinfo.String())
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	info := buildinfo.Get()
	log.Info("starting mdm-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	app, err := wire(cfg, log)
	if err != nil {
		return err
	}

	httpCfg := cfg.Server.HTTP
	httpServer := httpserver.New(httpserver.Config{
		Addr:              httpCfg.Addr,
		TLSCertFile:       httpCfg.TLSCertFile,
		TLSKeyFile:        httpCfg.TLSKeyFile,
		ReadHeaderTimeout: httpCfg.ReadHeaderTimeout,
		IdleTimeout:       httpCfg.IdleTimeout,
	}, app.router, log)

	ln, err := net.Listen("tcp", httpCfg.Addr)
	if err != nil {
		app.close()
		return fmt.Errorf("listen %s: %w", httpCfg.Addr, err)
	}

	sh := shutdown.NewHandler(httpCfg.ShutdownTimeout, log)

	// Hooks run in reverse: HTTP first, then the watcher, then the store.
	sh.OnShutdown("store", func(ctx context.Context) error {
		return app.close()
	})

	if *configFile != "" {
		stop, err := watchConfig(*configFile, log)
		if err != nil {
			log.Warn("configuration reload disabled", "error", err)
		} else {
			sh.OnShutdown("config watcher", func(ctx context.Context) error {
				return stop()
			})
		}
	}

	sh.OnShutdown("http", func(ctx context.Context) error {
		return httpServer.Shutdown(ctx)
	})

	go func() {
		if err := httpServer.Serve(ln); err != nil {
			log.Error("HTTP server error", "error", err)
			sh.Trigger(fmt.Errorf("http server: %w", err))
		}
	}()

	log.Info("server started", "addr", ln.Addr().String())
	if err := sh.Wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}

	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the structured logger and makes it the default.
func initLogger(cfg *config.ServerConfig) (*slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

// watchConfig reloads the log level when the configuration file changes.
// Other settings need a restart.
func watchConfig(path string, log *slog.Logger) (stop func() error, err error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		return nil, errors.Join(err, w.Stop())
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("configuration reload rejected", "error", err)
			return
		}
		if cfg.Log.Level != logger.Level() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	w.StartAsync()
	return w.Stop, nil
}
