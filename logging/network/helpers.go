package network

import (
	"context"

	"rewind-arena/server/logging"
)

const (
	// EventClaimThrottled is emitted when a session exceeds its claim rate.
	EventClaimThrottled logging.EventType = "network.claim_throttled"
	// EventMalformedMessage is emitted when a client frame cannot be decoded.
	EventMalformedMessage logging.EventType = "network.malformed_message"
)

// ThrottlePayload captures the limiter settings a session ran into.
type ThrottlePayload struct {
	Limit float64 `json:"limit"`
	Burst int     `json:"burst"`
}

// MalformedPayload describes a rejected frame.
type MalformedPayload struct {
	Error string `json:"error"`
	Bytes int    `json:"bytes"`
}

// ClaimThrottled publishes a warning when a claim is dropped by the limiter.
func ClaimThrottled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ThrottlePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClaimThrottled,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// MalformedMessage publishes a warning for an undecodable client frame.
func MalformedMessage(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload MalformedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedMessage,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}
