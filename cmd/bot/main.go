package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/cobra"

	"rewind-arena/server/internal/net/client"
	"rewind-arena/server/internal/net/proto"
)

type botOptions struct {
	url      string
	format   string
	duration time.Duration
	interval time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}

func newRootCommand() *cobra.Command {
	opts := botOptions{}
	cmd := &cobra.Command{
		Use:          "rewind-bot",
		Short:        "Join an arena server and wander, dodge and shoot",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "http://localhost:8080", "server base URL")
	flags.StringVar(&opts.format, "format", "json", "frame encoding (json or msgpack)")
	flags.DurationVar(&opts.duration, "duration", time.Minute, "how long to play; 0 plays until interrupted")
	flags.DurationVar(&opts.interval, "interval", 100*time.Millisecond, "time between actions")
	return cmd
}

func runBot(ctx context.Context, opts botOptions) error {
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}
	c, err := client.Dial(ctx, client.Config{BaseURL: opts.url, Format: proto.ParseFormat(opts.format)})
	if err != nil {
		return err
	}
	defer c.Close()
	log.Printf("joined as %s (%s)", c.Join().ID, c.Join().Handle)

	if err := c.SyncTime(ctx); err != nil {
		return fmt.Errorf("time sync: %w", err)
	}
	rtt, _ := c.RoundTrip()
	log.Printf("server time %.3fs, rtt %.1fms", c.ServerTime(), rtt*1000)

	// Frames are read and discarded from here on.
	go func() {
		for {
			if _, err := c.Next(ctx); err != nil {
				return
			}
		}
	}()
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case <-heartbeat.C:
			if err := c.Heartbeat(); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case <-ticker.C:
			if err := act(c); err != nil {
				return err
			}
		}
	}
}

func act(c *client.Client) error {
	angle := rand.Float64() * 2 * math.Pi
	facing := mgl64.Vec3{math.Cos(angle), math.Sin(angle), 0}
	switch roll := rand.Float64(); {
	case roll < 0.05:
		return c.Dodge()
	case roll < 0.2:
		return c.Fire(facing.Add(mgl64.Vec3{0, 0, 0.1}).Normalize())
	default:
		return c.Move(facing.X(), facing.Y(), facing)
	}
}
