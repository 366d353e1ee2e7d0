// Command vntsd is the vnts server process: it loads configuration, brings
// up the ambient stack (logging, metrics, tracing, profiling), loads or
// generates the server's RSA identity, and serves the UDP/TCP transport
// front-end and the admin HTTP API until it receives a shutdown signal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ziyouwa/vnts/internal/cipher"
	"github.com/ziyouwa/vnts/internal/dispatch"
	"github.com/ziyouwa/vnts/internal/group"
	"github.com/ziyouwa/vnts/internal/logger"
	"github.com/ziyouwa/vnts/internal/metrics"
	"github.com/ziyouwa/vnts/internal/session"
	"github.com/ziyouwa/vnts/internal/telemetry"
	"github.com/ziyouwa/vnts/internal/transport"
	"github.com/ziyouwa/vnts/pkg/adminapi"
	"github.com/ziyouwa/vnts/pkg/config"
)

// version is set via ldflags at release build time; "dev" otherwise.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "vntsd",
		Short: "vnts virtual-network tunnel server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.Uint16Var(&cfg.Port, "port", cfg.Port, "transport listener port (UDP and TCP)")
	flags.Uint16Var(&cfg.Backlog, "backlog", cfg.Backlog, "TCP accept backlog")
	flags.StringArrayVar(&cfg.WhiteTokens, "white-token", nil, "registration token whitelist (repeatable); empty disables whitelisting")
	flags.StringVar(&cfg.Gateway, "gateway", cfg.Gateway, "default group gateway address")
	flags.StringVar(&cfg.Netmask, "netmask", cfg.Netmask, "default group netmask")
	flags.BoolVar(&cfg.Finger, "finger", cfg.Finger, "require a keyed-MAC fingerprint on unencrypted packets")
	flags.StringVar(&cfg.LogPath, "log-path", cfg.LogPath, `log output: "stdout", "stderr", a log directory path, or "/dev/null" to disable`)
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "DEBUG, INFO, WARN or ERROR")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	flags.StringVar(&cfg.AdminUsername, "admin-username", cfg.AdminUsername, "admin HTTP API username")
	flags.StringVar(&cfg.AdminPassword, "admin-password", cfg.AdminPassword, "admin HTTP API password")
	flags.Uint16Var(&cfg.AdminPort, "admin-port", cfg.AdminPort, "admin HTTP API listener port")
	flags.BoolVar(&cfg.MetricsEnabled, "metrics", cfg.MetricsEnabled, "enable Prometheus metrics")
	flags.Uint16Var(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Prometheus /metrics listener port")
	flags.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", cfg.OTLPEndpoint, "OTLP gRPC endpoint for control-plane tracing; empty disables tracing")
	flags.BoolVar(&cfg.OTLPInsecure, "otlp-insecure", true, "use an insecure (non-TLS) OTLP connection")
	flags.StringVar(&cfg.ProfilingEndpoint, "pyroscope-endpoint", cfg.ProfilingEndpoint, "Pyroscope server address; empty disables profiling")
	flags.StringVar(&cfg.SupportedVersion, "supported-version", cfg.SupportedVersion, "reject Registration from clients reporting a different version; empty accepts any")

	cmd.Version = version
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogPath}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.OTLPEndpoint != ""
	telemetryCfg.Endpoint = cfg.OTLPEndpoint
	telemetryCfg.Insecure = cfg.OTLPInsecure
	telemetryCfg.ServiceVersion = version
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.ProfilingEndpoint != "",
		ServiceName:    "vntsd",
		ServiceVersion: version,
		Endpoint:       cfg.ProfilingEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	if cfg.MetricsEnabled {
		metrics.Enable()
	}

	keys, err := cipher.LoadOrGenerate(".")
	if err != nil {
		return fmt.Errorf("loading RSA identity: %w", err)
	}
	logger.Info("RSA identity ready", "fingerprint", keys.FingerprintHex)

	groups := group.NewRegistry()
	sessions := session.New(groups)

	dispatcher := dispatch.New(dispatch.Config{
		Gateway:          cfg.GatewayIP,
		Netmask:          cfg.NetmaskIP,
		Whitelist:        cfg.WhiteTokens,
		FingerMode:       cfg.Finger,
		SupportedVersion: cfg.SupportedVersion,
	}, groups, sessions, keys)

	hub := transport.NewHub(transport.Config{Port: int(cfg.Port)}, dispatcher)

	adminServer, err := adminapi.NewServer(adminapi.Config{
		Port:     cfg.AdminPort,
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
	}, sessions, groups)
	if err != nil {
		return fmt.Errorf("building admin API server: %w", err)
	}

	// errDone fans the transport hub, the admin HTTP server and (if
	// enabled) the metrics endpoint in: any one returning a non-nil error
	// cancels ctx and tears the others down, reproducing the original's
	// tokio::try_join! (SUPPLEMENTED FEATURES item 6).
	errDone := make(chan error, 3)

	go func() { errDone <- hub.Serve(ctx) }()
	go func() { errDone <- adminServer.Start(ctx) }()
	if cfg.MetricsEnabled {
		go func() { errDone <- serveMetrics(ctx, cfg.MetricsPort) }()
		go reportCardinality(ctx, sessions, groups)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("vntsd running", "port", cfg.Port, "admin_port", cfg.AdminPort)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case runErr = <-errDone:
		if runErr != nil {
			logger.Error("a server component failed", "error", runErr)
		}
	}

	cancel()
	hub.Stop()

	return runErr
}

// reportCardinality periodically refreshes the session/group gauges; the
// packet-path metrics (drops) are recorded inline by the dispatcher, but
// cardinality is cheapest sampled rather than updated on every insert/evict.
func reportCardinality(ctx context.Context, sessions *session.Cache, groups *group.Registry) {
	m := metrics.NewPacketMetrics()
	if m == nil {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetSessionCount(sessions.SessionCount())
			m.SetGroupCount(groups.GroupCount())
		}
	}
}

func serveMetrics(ctx context.Context, port uint16) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
