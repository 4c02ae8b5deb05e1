package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rewind-arena/server/internal/app"
	"rewind-arena/server/internal/config"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(settings, app.Run).ExecuteContext(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}

type runFunc func(ctx context.Context, cfg app.Config) error

// newRootCommand binds flags over settings already loaded from the
// environment, so an explicit flag always wins.
func newRootCommand(settings config.Config, run runFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rewind-server",
		Short:         "Authoritative arena server with lag-compensated hit verification",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := settings.Validate(); err != nil {
				return err
			}
			if err := run(cmd.Context(), app.Config{Settings: settings}); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&settings.Addr, "addr", settings.Addr, "HTTP listen address")
	flags.IntVar(&settings.TickRate, "tick-rate", settings.TickRate, "simulation ticks per second")
	flags.IntVar(&settings.HistoryFrames, "history-frames", settings.HistoryFrames, "rewind frames kept per character")
	flags.StringVar(&settings.BallisticsFile, "ballistics", settings.BallisticsFile, "YAML file overriding projectile parameters")
	flags.BoolVar(&settings.Obstacles, "obstacles", settings.Obstacles, "scatter blocking obstacles in the arena")
	flags.StringVar(&settings.WorldSeed, "seed", settings.WorldSeed, "world generation seed")
	flags.Float64Var(&settings.ClaimsPerSecond, "claims-per-second", settings.ClaimsPerSecond, "hit claims accepted per session per second")
	flags.IntVar(&settings.ClaimBurst, "claim-burst", settings.ClaimBurst, "hit claim burst allowance per session")
	flags.StringSliceVar(&settings.LogSinks, "log-sinks", settings.LogSinks, "enabled log sinks (console, json)")
	flags.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "minimum log severity")
	flags.StringVar(&settings.LogJSONPath, "log-json-path", settings.LogJSONPath, "file for the json log sink")
	flags.StringToStringVar(&settings.LogCategoryLevels, "log-category-levels", settings.LogCategoryLevels, "per-category log severity, e.g. rewind=debug")
	flags.BoolVar(&settings.EnablePprof, "pprof", settings.EnablePprof, "expose /debug/pprof")

	return cmd
}
