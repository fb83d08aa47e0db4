// Command registryd runs the mesh registry daemon: the authoritative
// directory of agents, tools, and capabilities described in spec §4.1,
// exposed over the REST API in spec §6. Uses a cobra root command for CLI
// flags and gopkg.in/yaml.v3 for the on-disk config file, matching this
// repo's other service entry points.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gopkg.in/yaml.v3"

	"github.com/mcp-mesh/mesh-core/registry"
	"github.com/mcp-mesh/mesh-core/registry/store"
	"github.com/mcp-mesh/mesh-core/registry/store/memory"
	mongostore "github.com/mcp-mesh/mesh-core/registry/store/mongo"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

// Exit codes per spec §6.
const (
	exitClean           = 0
	exitInvalidConfig   = 2
	exitStoreOpenFailed = 3
	exitBindFailed      = 4
)

type daemonConfig struct {
	ListenAddr            string        `yaml:"listen_addr"`
	StoreBackend          string        `yaml:"store_backend"` // "memory" | "mongo"
	MongoURI              string        `yaml:"mongo_uri"`
	MongoDatabase         string        `yaml:"mongo_database"`
	MongoCollection       string        `yaml:"mongo_collection"`
	HealthSweepInterval   time.Duration `yaml:"health_sweep_interval"`
	UnhealthyMultiplier   int           `yaml:"unhealthy_multiplier"`
	OfflineMultiplier     int           `yaml:"offline_multiplier"`
	LogLevel              string        `yaml:"log_level"`
}

func defaultConfig() daemonConfig {
	return daemonConfig{
		ListenAddr:          ":8000",
		StoreBackend:        "memory",
		HealthSweepInterval: 10 * time.Second,
		UnhealthyMultiplier: 3,
		OfflineMultiplier:   10,
		LogLevel:            "info",
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var ec exitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

// exitCoder lets subcommands attach a specific spec §6 exit code to an
// error without os.Exit-ing directly, keeping Execute's error path
// testable.
type exitCoder interface {
	error
	ExitCode() int
}

type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }
func (e *codedError) ExitCode() int { return e.code }

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "registryd",
		Short: "Run the mesh registry daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultConfig()
			if configPath != "" {
				loaded, err := loadConfig(configPath)
				if err != nil {
					return &codedError{code: exitInvalidConfig, err: err}
				}
				cfg = loaded
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	return cmd
}

func loadConfig(path string) (daemonConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ListenAddr == "" {
		return cfg, errors.New("listen_addr is required")
	}
	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "mongo" {
		return cfg, fmt.Errorf("unsupported store_backend %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "mongo" && (cfg.MongoURI == "" || cfg.MongoDatabase == "" || cfg.MongoCollection == "") {
		return cfg, errors.New("mongo store backend requires mongo_uri, mongo_database, mongo_collection")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg daemonConfig) error {
	logger := telemetry.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	backingStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return &codedError{code: exitStoreOpenFailed, err: err}
	}
	defer closeStore()

	health := registry.NewHealthTracker(backingStore,
		registry.WithUnhealthyMultiplier(cfg.UnhealthyMultiplier),
		registry.WithOfflineMultiplier(cfg.OfflineMultiplier),
		registry.WithHealthLogger(logger),
	)

	reg, err := registry.New(registry.Config{Store: backingStore, Health: health, Logger: logger})
	if err != nil {
		return &codedError{code: exitInvalidConfig, err: err}
	}
	defer reg.Close()

	svc := registry.NewService(registry.ServiceOptions{Registry: reg, Logger: logger})

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return &codedError{code: exitBindFailed, err: fmt.Errorf("bind %s: %w", cfg.ListenAddr, err)}
	}

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg.Health().Run(runCtx, cfg.HealthSweepInterval)
	defer reg.Health().Close()

	server := &http.Server{Handler: svc.Router()}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	logger.Info(runCtx, "registry daemon listening", "addr", cfg.ListenAddr, "store_backend", cfg.StoreBackend)

	select {
	case <-runCtx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "registry http server shutdown error", "err", err)
		}
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return &codedError{code: exitBindFailed, err: err}
		}
		return nil
	}
}

func openStore(ctx context.Context, cfg daemonConfig) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		collection := client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
		st := mongostore.New(collection)
		if err := st.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return st, closeFn, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
