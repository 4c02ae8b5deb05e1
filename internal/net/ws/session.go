package ws

import (
	"golang.org/x/time/rate"

	server "rewind-arena/server"
	"rewind-arena/server/internal/net/proto"
)

// session is the per-connection state of a player.
type session struct {
	playerID  string
	format    proto.Format
	sub       *server.Subscriber
	claims    *rate.Limiter
	throttled uint64
}

func newSession(playerID string, format proto.Format, sub *server.Subscriber, limit rate.Limit, burst int) *session {
	return &session{
		playerID: playerID,
		format:   format,
		sub:      sub,
		claims:   rate.NewLimiter(limit, burst),
	}
}

// allowClaim consumes one claim token. Excess claims are dropped, never
// queued, so a flood cannot delay legitimate verification.
func (s *session) allowClaim() bool {
	if s.claims.Allow() {
		return true
	}
	s.throttled++
	return false
}
