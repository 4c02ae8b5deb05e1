package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	server "rewind-arena/server"
	"rewind-arena/server/internal/ballistics"
	"rewind-arena/server/internal/config"
	servernet "rewind-arena/server/internal/net"
	"rewind-arena/server/internal/net/ws"
	"rewind-arena/server/internal/telemetry"
	"rewind-arena/server/logging"
	loggingSinks "rewind-arena/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Ready, when set, receives the bound listener address once the server
	// accepts connections.
	Ready func(addr string)
}

// Run starts the simulation and HTTP server and blocks until ctx is cancelled
// or the listener fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	settings := cfg.Settings

	params, err := ballistics.Load(settings.BallisticsFile)
	if err != nil {
		return fmt.Errorf("failed to load ballistics: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewPrometheus(registry, settings.MetricsSpace)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	logConfig := settings.Logging()
	sinks, closeFiles, err := buildSinks(logConfig, os.Stdout)
	if err != nil {
		return err
	}
	defer closeFiles()

	router, err := logging.NewRouter(logging.ClockFunc(time.Now), logConfig, sinks, logging.WithRouterMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	hubCfg := HubConfig(settings, params)
	hubCfg.Logger = telemetryLogger
	hubCfg.Metrics = metrics
	hubCfg.Verdicts = metrics
	hubCfg.Publisher = router
	hub := server.NewHub(hubCfg)

	simCtx, stopSim := context.WithCancel(ctx)
	defer stopSim()
	go hub.RunSimulation(simCtx)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:   telemetryLogger,
		Gatherer: registry,
		WebSocket: ws.HandlerConfig{
			Logger:          telemetryLogger,
			Metrics:         metrics,
			Publisher:       router,
			ClaimsPerSecond: settings.ClaimsPerSecond,
			ClaimBurst:      settings.ClaimBurst,
		},
		EnablePprof: settings.EnablePprof,
	})

	srv := &http.Server{Addr: settings.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	return serve(ctx, srv, telemetryLogger, cfg.Ready)
}

// HubConfig maps the loaded settings onto the hub configuration.
func HubConfig(settings config.Config, params ballistics.Params) server.HubConfig {
	hubCfg := server.DefaultHubConfig()
	hubCfg.Ballistics = params
	hubCfg.HistoryFrames = settings.HistoryFrames
	hubCfg.Loop.TickRate = settings.TickRate
	hubCfg.HeartbeatTimeout = settings.HeartbeatTTL
	hubCfg.World.Obstacles = settings.Obstacles
	hubCfg.World.ObstaclesCount = settings.ObstaclesCount
	hubCfg.World.Seed = settings.WorldSeed
	return hubCfg
}

func buildSinks(cfg logging.Config, console io.Writer) ([]logging.NamedSink, func(), error) {
	var (
		sinks []logging.NamedSink
		files []*os.File
	)
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}
	if cfg.HasSink(logging.SinkConsole) {
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkConsole, Sink: loggingSinks.NewConsoleSink(console, cfg.Console)})
	}
	if cfg.HasSink(logging.SinkJSON) {
		path := filepath.Clean(cfg.JSON.FilePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			closeFiles()
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			closeFiles()
			return nil, nil, fmt.Errorf("failed to open json log: %w", err)
		}
		files = append(files, f)
		sinks = append(sinks, logging.NamedSink{Name: logging.SinkJSON, Sink: loggingSinks.NewJSON(f, cfg.JSON.FlushInterval)})
	}
	return sinks, closeFiles, nil
}

func serve(ctx context.Context, srv *http.Server, logger telemetry.Logger, ready func(string)) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Printf("server listening on %s", listener.Addr())
	if ready != nil {
		ready(listener.Addr().String())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Printf("server stopped")
	return nil
}
