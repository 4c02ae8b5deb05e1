// Package client is a Go implementation of the arena client protocol: join,
// websocket session, clock sync and rewind hit claims. Bots and end-to-end
// tests use it to drive a server the way a game client does.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"rewind-arena/server/internal/clocksync"
	"rewind-arena/server/internal/handle"
	"rewind-arena/server/internal/net/proto"
)

const writeWait = 5 * time.Second

// ErrClosed is returned after Close.
var ErrClosed = errors.New("client: closed")

type Config struct {
	// BaseURL is the server's HTTP root, e.g. http://localhost:8080.
	BaseURL        string
	Format         proto.Format
	ResyncInterval float64
	HTTPClient     *http.Client
	Dialer         *websocket.Dialer
}

// Message is one decoded server frame.
type Message struct {
	Type    string
	Format  proto.Format
	Payload []byte
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return proto.Unmarshal(m.Format, m.Payload, v)
}

// Client is one connected player. Send methods are safe for concurrent use;
// Next and SyncTime must be called from a single reader.
type Client struct {
	conn      *websocket.Conn
	format    proto.Format
	join      proto.JoinResponse
	estimator *clocksync.Estimator
	started   time.Time

	writeMu sync.Mutex
	backlog []Message
	closed  bool
}

// Dial joins the arena over HTTP and opens the player's websocket session.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	join, err := postJoin(ctx, httpClient, base.String()+"/join")
	if err != nil {
		return nil, err
	}

	wsURL := *base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/ws"
	query := url.Values{"id": {join.ID}, "format": {cfg.Format.String()}}
	wsURL.RawQuery = query.Encode()

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", wsURL.Redacted(), err)
	}
	return &Client{
		conn:      conn,
		format:    cfg.Format,
		join:      join,
		estimator: clocksync.NewEstimator(cfg.ResyncInterval, nil),
		started:   time.Now(),
	}, nil
}

func postJoin(ctx context.Context, httpClient *http.Client, endpoint string) (proto.JoinResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return proto.JoinResponse{}, fmt.Errorf("client: join request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return proto.JoinResponse{}, fmt.Errorf("client: join: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return proto.JoinResponse{}, fmt.Errorf("client: join body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return proto.JoinResponse{}, fmt.Errorf("client: join: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var join proto.JoinResponse
	if err := proto.Unmarshal(proto.FormatText, body, &join); err != nil {
		return proto.JoinResponse{}, fmt.Errorf("client: decode join: %w", err)
	}
	return join, nil
}

// Join reports the server's join response.
func (c *Client) Join() proto.JoinResponse { return c.join }

// Handle parses the player's character handle.
func (c *Client) Handle() (handle.Handle, error) { return handle.Parse(c.join.Handle) }

func (c *Client) localNow() float64 { return time.Since(c.started).Seconds() }

// ServerTime estimates the current server clock.
func (c *Client) ServerTime() float64 { return c.estimator.ServerTime(c.localNow()) }

// RoundTrip reports the last measured round trip in seconds.
func (c *Client) RoundTrip() (float64, bool) { return c.estimator.RoundTrip() }

// SyncTime runs one time-sync exchange. Frames that arrive while waiting are
// kept for Next.
func (c *Client) SyncTime(ctx context.Context) error {
	if err := c.send(proto.ClientMessage{Type: proto.TypeTimeSync, ClientTime: c.localNow()}); err != nil {
		return err
	}
	for {
		msg, err := c.read(ctx)
		if err != nil {
			return err
		}
		if msg.Type != proto.TypeTimeSyncReply {
			c.backlog = append(c.backlog, msg)
			continue
		}
		var reply proto.TimeSyncReply
		if err := msg.Decode(&reply); err != nil {
			return fmt.Errorf("client: decode time sync: %w", err)
		}
		c.estimator.Observe(clocksync.Sync{ClientTime: reply.ClientTime, ServerTime: reply.ServerTime}, c.localNow())
		return nil
	}
}

// ResyncDue advances the resync timer by dt seconds and reports whether
// SyncTime should run again.
func (c *Client) ResyncDue(dt float64) bool { return c.estimator.Due(dt) }

// Move sets the ground movement intent and facing.
func (c *Client) Move(dx, dy float64, facing mgl64.Vec3) error {
	return c.send(proto.ClientMessage{Type: proto.TypeMove, DX: dx, DY: dy, Facing: facing})
}

// Dodge starts a dodge window.
func (c *Client) Dodge() error {
	return c.send(proto.ClientMessage{Type: proto.TypeDodge})
}

// Fire launches a server-simulated projectile.
func (c *Client) Fire(direction mgl64.Vec3) error {
	return c.send(proto.ClientMessage{Type: proto.TypeFire, Direction: direction})
}

// Heartbeat reports liveness with the local wall clock.
func (c *Client) Heartbeat() error {
	return c.send(proto.ClientMessage{Type: proto.TypeHeartbeat, SentAt: time.Now().UnixMilli()})
}

// Claim asks the server to verify a hit the client predicted against target
// at hitTime on the server clock.
func (c *Client) Claim(target handle.Handle, origin, velocity mgl64.Vec3, hitTime float64) error {
	hit, err := proto.NewReconcileHit(target, origin, velocity, hitTime)
	if err != nil {
		return fmt.Errorf("client: claim: %w", err)
	}
	return c.send(proto.ClientMessage{Type: proto.TypeReconcileHit, Hit: &hit})
}

// Next returns the next server frame, or ctx's error once it is done.
func (c *Client) Next(ctx context.Context) (Message, error) {
	if len(c.backlog) > 0 {
		msg := c.backlog[0]
		c.backlog = c.backlog[1:]
		return msg, nil
	}
	return c.read(ctx)
}

// NextOfType skips frames until one of type typ arrives.
func (c *Client) NextOfType(ctx context.Context, typ string) (Message, error) {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return Message{}, err
		}
		if msg.Type == typ {
			return msg, nil
		}
	}
}

func (c *Client) read(ctx context.Context) (Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, ctxErr
		}
		return Message{}, fmt.Errorf("client: read: %w", err)
	}
	typ, err := proto.PeekType(c.format, payload)
	if err != nil {
		return Message{}, fmt.Errorf("client: frame type: %w", err)
	}
	return Message{Type: typ, Format: c.format, Payload: payload}, nil
}

func (c *Client) send(msg proto.ClientMessage) error {
	data, err := proto.EncodeClientMessage(c.format, msg)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", msg.Type, err)
	}
	frame := websocket.TextMessage
	if c.format == proto.FormatBinary {
		frame = websocket.BinaryMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(frame, data); err != nil {
		return fmt.Errorf("client: write %s: %w", msg.Type, err)
	}
	return nil
}

// Close sends a normal close frame and drops the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return c.conn.Close()
}
