package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	server "rewind-arena/server"
	"rewind-arena/server/internal/net/ws"
	"rewind-arena/server/internal/telemetry"
)

// HTTPHandlerConfig wires the HTTP surface.
type HTTPHandlerConfig struct {
	Logger    telemetry.Logger
	Gatherer  prometheus.Gatherer
	WebSocket ws.HandlerConfig

	// EnablePprof mounts the runtime profiler under /debug/pprof/.
	EnablePprof bool
}

// NewHTTPHandler builds the server mux: join, websocket, health, diagnostics,
// ballistics and metrics.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	wsCfg := cfg.WebSocket
	if wsCfg.Logger == nil {
		wsCfg.Logger = logger
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status        string                     `json:"status"`
			ServerTime    float64                    `json:"serverTime"`
			Tick          uint64                     `json:"tick"`
			TickRate      int                        `json:"tickRate"`
			HistoryFrames int                        `json:"historyFrames"`
			Tracked       int                        `json:"tracked"`
			Players       []server.DiagnosticsPlayer `json:"players"`
		}{
			Status:        "ok",
			ServerTime:    hub.ServerTime(),
			Tick:          hub.Tick(),
			TickRate:      hub.TickRate(),
			HistoryFrames: hub.Recorder().Capacity(),
			Tracked:       hub.Recorder().Tracked(),
			Players:       hub.DiagnosticsSnapshot(),
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/ballistics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, logger, hub.Ballistics())
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		join, err := hub.Join(r.Context())
		if err != nil {
			logger.Printf("join failed: %v", err)
			httpError(w, "join failed", nethttp.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, join)
	})

	mux.HandleFunc("/ws", ws.NewHandler(hub, wsCfg).Handle)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
