// Command erdlink-client connects to the appliance cloud and keeps the
// session alive, reconnecting after dropped connections.
//
// Usage:
//
//	erdlink-client [flags]
//
// Flags:
//
//	-c, --config string        Configuration file path (default "erdlink.yaml")
//	    --env-file string      dotenv file with account secrets (default ".env")
//	    --log-level string     Log level: debug, info, warn, error
//	    --protocol-log string  Write a protocol capture (.elog) to this file
//	-i, --interactive          Enable interactive command mode
//	    --metrics-addr string  Serve Prometheus metrics on this address
//
// Examples:
//
//	# Connect with settings from erdlink.yaml and secrets from .env
//	erdlink-client
//
//	# Interactive mode with a protocol capture
//	erdlink-client -i --protocol-log session.elog
//
//	# Expose metrics
//	erdlink-client --metrics-addr :9464 --log-level debug
//
// Interactive Commands:
//
//	status      - Show session state
//	appliances  - List known appliances
//	show <id>   - Show attribute values
//	set <id> <attr> <value> - Write an attribute
//	refresh <id> - Request a full update
//	disconnect  - Disconnect from the cloud
//	quit        - Exit the client
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/nats-io/nats.go"

	"github.com/erdlink/erdlink-go/cmd/erdlink-client/interactive"
	"github.com/erdlink/erdlink-go/pkg/auth"
	"github.com/erdlink/erdlink-go/pkg/config"
	"github.com/erdlink/erdlink-go/pkg/connection"
	"github.com/erdlink/erdlink-go/pkg/log"
	"github.com/erdlink/erdlink-go/pkg/metrics"
	"github.com/erdlink/erdlink-go/pkg/natsbridge"
	"github.com/erdlink/erdlink-go/pkg/persistence"
	"github.com/erdlink/erdlink-go/pkg/transport"
	"github.com/erdlink/erdlink-go/pkg/version"
)

var CLI struct {
	Config      string `short:"c" help:"Configuration file path." default:"erdlink.yaml" type:"path"`
	EnvFile     string `help:"dotenv file with account secrets." default:".env" type:"path"`
	LogLevel    string `help:"Log level: debug, info, warn, error (overrides the config file)."`
	ProtocolLog string `help:"Write a protocol capture (.elog) to this file." type:"path"`
	Interactive bool   `short:"i" help:"Enable interactive command mode."`
	MetricsAddr string `help:"Serve Prometheus metrics on this address (e.g. :9464)."`
	Version     bool   `help:"Print the version and exit."`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("erdlink-client"),
		kong.Description("Appliance cloud session client."),
	)

	if CLI.Version {
		fmt.Println("erdlink-client", version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "erdlink-client: %v\n", err)
		os.Exit(1)
	}

	// The console must exist before the logger so log lines don't
	// garble the prompt.
	var console *interactive.Console
	var out io.Writer = os.Stderr
	if CLI.Interactive {
		console, err = interactive.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "erdlink-client: %v\n", err)
			os.Exit(1)
		}
		out = console.Stdout()
	}

	logger, err := newLogger(out, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "erdlink-client: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cancel, cfg, logger, console)
	cancel()
	if err != nil {
		slog.Error("client failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the env file and config file, then applies environment
// and flag overrides.
func loadConfig() (config.Config, error) {
	if err := config.LoadEnvFile(CLI.EnvFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv()

	if CLI.LogLevel != "" {
		cfg.Logging.Level = CLI.LogLevel
	}
	if CLI.ProtocolLog != "" {
		cfg.Logging.ProtocolLog = CLI.ProtocolLog
	}
	if CLI.MetricsAddr != "" {
		cfg.Metrics.Addr = CLI.MetricsAddr
	}
	return cfg, cfg.Validate()
}

func newLogger(out io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	}
	return slog.New(slog.NewTextHandler(out, opts)), nil
}

// protocolLogger opens the capture file, if any. At debug level the
// capture is mirrored to the operational log.
func protocolLogger(cfg config.LoggingConfig, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closer := func() {}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, closer, fmt.Errorf("failed to open protocol log: %w", err)
		}
		closer = func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol log dropped events", "count", n)
			}
			fl.Close()
		}
		loggers = append(loggers, fl)
		logger.Info("protocol logging enabled", "file", cfg.ProtocolLog)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closer, nil
	case 1:
		return loggers[0], closer, nil
	default:
		return log.NewMultiLogger(loggers...), closer, nil
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.Config, logger *slog.Logger, console *interactive.Console) error {
	plog, closeLog, err := protocolLogger(cfg.Logging, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	authn, err := auth.NewOAuth2Authenticator(cfg.OAuth2(logger))
	if err != nil {
		return err
	}

	tc := cfg.Transport()
	tc.Logger = logger
	tc.ProtocolLogger = plog
	client, err := transport.NewClient(tc)
	if err != nil {
		return err
	}

	sc := cfg.Supervisor()
	sc.Logger = logger
	sc.ProtocolLogger = plog
	sup, err := connection.NewSupervisor(sc, authn, client)
	if err != nil {
		return err
	}

	if path := cfg.Session.StateFile; path != "" {
		store := persistence.NewStore(path)
		restoreState(store, sup, logger)
		defer saveState(store, sup, logger)
	}

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, sup.Events(), logger)
		defer stop()
	}

	if cfg.NATS.URL != "" {
		bridge, err := natsbridge.Connect(ctx, cfg.NATS.URL, cfg.NATS.Bucket, natsbridge.Config{
			Prefix:    cfg.NATS.Prefix,
			SessionID: sup.SessionID(),
			Logger:    logger,
		}, nats.Name("erdlink-client"), nats.MaxReconnects(-1))
		if err != nil {
			return err
		}
		bridge.Attach(sup.Events())
		defer bridge.Close()
	}

	if console != nil {
		console.Attach(sup, client, sup.Events())
		go console.Run(ctx, cancel)
		defer console.Close()
	}

	logger.Info("starting session",
		"session_id", sup.SessionID(),
		"websocket_url", cfg.Endpoints.WebsocketURL,
		"max_retries", sc.MaxRetries)

	if err := sup.LoginAndRun(ctx); err != nil {
		sup.Events().Wait()
		return err
	}
	sup.Events().Wait()

	logger.Info("session ended", "state", sup.State(), "retries", sup.Retries())
	return nil
}

func restoreState(store *persistence.Store, sup *connection.Supervisor, logger *slog.Logger) {
	state, err := store.Load()
	if err != nil {
		logger.Warn("ignoring unreadable state file", "file", store.Path(), "error", err)
		return
	}
	if state == nil {
		return
	}
	n := state.Restore(sup.Appliances())
	logger.Info("restored appliances", "count", n, "saved_at", state.SavedAt)
}

func saveState(store *persistence.Store, sup *connection.Supervisor, logger *slog.Logger) {
	userID, _ := sup.UserID()
	if err := store.Save(persistence.Capture(sup.SessionID(), userID, sup.Appliances())); err != nil {
		logger.Error("failed to save state", "file", store.Path(), "error", err)
	}
}

// serveMetrics starts the Prometheus endpoint and returns a function that
// shuts it down.
func serveMetrics(addr string, bus connection.Subscriber, logger *slog.Logger) func() {
	reg := metrics.NewRegistry()
	observer := metrics.NewObserver(reg)
	observer.Attach(bus)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		observer.Detach()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
