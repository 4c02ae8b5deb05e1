package ws

import (
	"context"
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	server "rewind-arena/server"
	"rewind-arena/server/internal/net/proto"
	"rewind-arena/server/internal/telemetry"
	"rewind-arena/server/logging"
	"rewind-arena/server/logging/network"
)

const (
	DefaultClaimsPerSecond = 20.0
	DefaultClaimBurst      = 10
	defaultReadLimit       = 64 << 10

	claimsThrottledMetricKey = "ws_claims_throttled_total"
	malformedMetricKey       = "ws_malformed_messages_total"
)

// HandlerConfig tunes the websocket session handler.
type HandlerConfig struct {
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
	Publisher       logging.Publisher
	ClaimsPerSecond float64
	ClaimBurst      int
	ReadLimit       int64
}

// Handler coordinates websocket sessions for joined players.
type Handler struct {
	hub        *server.Hub
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	publisher  logging.Publisher
	upgrader   websocket.Upgrader
	claimLimit rate.Limit
	claimBurst int
	readLimit  int64
}

// NewHandler constructs a websocket session handler for the given hub.
func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	perSecond := cfg.ClaimsPerSecond
	if perSecond <= 0 {
		perSecond = DefaultClaimsPerSecond
	}
	burst := cfg.ClaimBurst
	if burst <= 0 {
		burst = DefaultClaimBurst
	}
	readLimit := cfg.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}

	return &Handler{
		hub:       hub,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		claimLimit: rate.Limit(perSecond),
		claimBurst: burst,
		readLimit:  readLimit,
	}
}

// Handle upgrades the request and serves the session. The player is selected
// by the id query parameter; format=msgpack selects binary frames.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := r.URL.Query().Get("id")
	if playerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}
	format := proto.ParseFormat(r.URL.Query().Get("format"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", playerID, err)
		return
	}
	h.Serve(r.Context(), playerID, format, conn)
}

// Serve orchestrates a websocket session for the provided player connection.
func (h *Handler) Serve(ctx context.Context, playerID string, format proto.Format, conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	sub, snapshot, ok := h.hub.Subscribe(playerID, conn, format)
	if !ok {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown player")
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}
	conn.SetReadLimit(h.readLimit)
	s := newSession(playerID, format, sub, h.claimLimit, h.claimBurst)

	if err := sub.Send(snapshot); err != nil {
		h.hub.Release(ctx, playerID, sub, "write_failed")
		return
	}

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Release(ctx, playerID, sub, "connection_closed")
			return
		}

		frameFormat := proto.FormatText
		if messageType == websocket.BinaryMessage {
			frameFormat = proto.FormatBinary
		}
		msg, err := proto.DecodeClientMessage(frameFormat, payload)
		if err != nil {
			h.malformed(ctx, s, len(payload), err)
			continue
		}

		if !h.dispatch(ctx, s, msg) {
			h.hub.Release(ctx, playerID, sub, "write_failed")
			return
		}
	}
}

// dispatch handles one decoded message. It returns false when the session
// can no longer be written to.
func (h *Handler) dispatch(ctx context.Context, s *session, msg proto.ClientMessage) bool {
	switch msg.Type {
	case proto.TypeMove, proto.TypeDodge, proto.TypeFire:
		_, ok, reason := h.hub.Enqueue(s.playerID, msg)
		if ok {
			return true
		}
		if reason == server.CommandRejectUnknownActor {
			h.logger.Printf("%s ignored for unknown player %s", msg.Type, s.playerID)
		}
		return s.sub.Send(proto.CommandReject{Command: msg.Type, Reason: reason}) == nil
	case proto.TypeHeartbeat:
		now := time.Now()
		rtt, ok := h.hub.UpdateHeartbeat(s.playerID, now, msg.SentAt)
		if !ok {
			return true
		}
		return s.sub.Send(proto.Heartbeat{
			ServerTime: now.UnixMilli(),
			ClientTime: msg.SentAt,
			RTTMillis:  rtt.Milliseconds(),
		}) == nil
	case proto.TypeTimeSync:
		return s.sub.Send(h.hub.TimeSync(msg.ClientTime)) == nil
	case proto.TypeReconcileHit:
		if msg.Hit == nil {
			h.malformed(ctx, s, 0, errMissingHit)
			return true
		}
		if !s.allowClaim() {
			h.metrics.Add(claimsThrottledMetricKey, 1)
			network.ClaimThrottled(ctx, h.publisher, h.hub.Tick(), logging.CharacterRef(s.playerID), network.ThrottlePayload{
				Limit: float64(h.claimLimit),
				Burst: h.claimBurst,
			}, map[string]any{"dropped": s.throttled})
			return true
		}
		result, ok := h.hub.ReconcileHit(ctx, s.playerID, *msg.Hit)
		if !ok {
			return true
		}
		return s.sub.Send(result) == nil
	case proto.TypeJoin:
		return s.sub.Send(proto.CommandReject{Command: msg.Type, Reason: "already_joined"}) == nil
	default:
		h.logger.Printf("unknown message type %q from %s", msg.Type, s.playerID)
		return true
	}
}

func (h *Handler) malformed(ctx context.Context, s *session, size int, err error) {
	h.metrics.Add(malformedMetricKey, 1)
	h.logger.Printf("discarding malformed message from %s: %v", s.playerID, err)
	network.MalformedMessage(ctx, h.publisher, h.hub.Tick(), logging.CharacterRef(s.playerID), network.MalformedPayload{
		Error: err.Error(),
		Bytes: size,
	}, nil)
}
