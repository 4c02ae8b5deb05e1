package config

import (
	"strings"
	"testing"
	"time"

	"rewind-arena/server/logging"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.TickRate != 60 || cfg.HistoryFrames != 240 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.Obstacles || cfg.HeartbeatTTL != 10*time.Second {
		t.Fatalf("unexpected world defaults %+v", cfg)
	}
	if len(cfg.LogSinks) != 1 || cfg.LogSinks[0] != logging.SinkConsole {
		t.Fatalf("expected console sink by default, got %v", cfg.LogSinks)
	}
}

func TestLoadReadsPrefixedVariables(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"REWIND_ADDR":                ":9000",
		"REWIND_TICK_RATE":           "30",
		"REWIND_HISTORY_FRAMES":      "120",
		"REWIND_CLAIMS_PER_SECOND":   "2.5",
		"REWIND_LOG_SINKS":           " Console , json ",
		"REWIND_LOG_JSON_PATH":       "/tmp/rewind.jsonl",
		"REWIND_LOG_LEVEL":           "WARN",
		"REWIND_OBSTACLES":           "false",
		"REWIND_LOG_CATEGORY_LEVELS": "Rewind:debug,network:WARN",
		"TICK_RATE":                  "1",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.TickRate != 30 || cfg.HistoryFrames != 120 || cfg.ClaimsPerSecond != 2.5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Obstacles {
		t.Fatalf("expected obstacles disabled")
	}
	logCfg := cfg.Logging()
	if !logCfg.HasSink(logging.SinkConsole) || !logCfg.HasSink(logging.SinkJSON) {
		t.Fatalf("expected both sinks, got %v", logCfg.EnabledSinks)
	}
	if logCfg.MinimumSeverity != logging.SeverityWarn {
		t.Fatalf("expected warn severity, got %v", logCfg.MinimumSeverity)
	}
	if logCfg.Threshold(logging.CategoryRewind) != logging.SeverityDebug || logCfg.Threshold(logging.CategoryNetwork) != logging.SeverityWarn {
		t.Fatalf("unexpected category thresholds %v", logCfg.CategorySeverity)
	}
	if logCfg.Threshold(logging.CategoryCombat) != logging.SeverityWarn {
		t.Fatalf("expected uncategorised events to follow the global level")
	}
	if logCfg.JSON.FilePath != "/tmp/rewind.jsonl" {
		t.Fatalf("unexpected json path %q", logCfg.JSON.FilePath)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "tick rate", env: map[string]string{"REWIND_TICK_RATE": "0"}, field: "TickRate"},
		{name: "history", env: map[string]string{"REWIND_HISTORY_FRAMES": "1"}, field: "HistoryFrames"},
		{name: "sink", env: map[string]string{"REWIND_LOG_SINKS": "syslog"}, field: "LogSinks"},
		{name: "level", env: map[string]string{"REWIND_LOG_LEVEL": "loud"}, field: "LogLevel"},
		{name: "json path", env: map[string]string{"REWIND_LOG_SINKS": "json"}, field: "LogJSONPath"},
		{name: "claim rate", env: map[string]string{"REWIND_CLAIMS_PER_SECOND": "-1"}, field: "ClaimsPerSecond"},
		{name: "category", env: map[string]string{"REWIND_LOG_CATEGORY_LEVELS": "physics:debug"}, field: "LogCategoryLevels"},
		{name: "category level", env: map[string]string{"REWIND_LOG_CATEGORY_LEVELS": "rewind:loud"}, field: "LogCategoryLevels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.env)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("expected error to name %s, got %v", tt.field, err)
			}
		})
	}
}

func TestLoadReportsParseErrors(t *testing.T) {
	if _, err := LoadFrom(map[string]string{"REWIND_TICK_RATE": "fast"}); err == nil {
		t.Fatalf("expected parse error")
	}
}
