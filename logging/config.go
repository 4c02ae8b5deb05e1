package logging

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

const (
	SinkConsole = "console"
	SinkJSON    = "json"
	SinkMemory  = "memory"
)

// Config selects sinks and severity floors for the event router.
type Config struct {
	EnabledSinks    []string
	BufferSize      int
	MinimumSeverity Severity
	// CategorySeverity overrides MinimumSeverity per event category, e.g.
	// rewind verdicts at debug while network noise stays at warn.
	CategorySeverity map[string]Severity
	Fields           map[string]any
	JSON             JSONConfig
	Console          ConsoleConfig
	DropWarnInterval time.Duration
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

type ConsoleConfig struct {
	// Prefix is prepended to every console line.
	Prefix string
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{SinkConsole},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	return slices.Contains(c.EnabledSinks, name)
}

// Threshold is the lowest severity forwarded for category.
func (c Config) Threshold(category string) Severity {
	if severity, ok := c.CategorySeverity[category]; ok {
		return severity
	}
	return c.MinimumSeverity
}

// SetCategoryLevels parses category to level-name pairs into
// CategorySeverity.
func (c *Config) SetCategoryLevels(levels map[string]string) error {
	if len(levels) == 0 {
		return nil
	}
	if c.CategorySeverity == nil {
		c.CategorySeverity = make(map[string]Severity, len(levels))
	}
	for category, name := range levels {
		severity, ok := ParseSeverity(name)
		if !ok {
			return fmt.Errorf("logging: unknown level %q for category %q", name, category)
		}
		c.CategorySeverity[category] = severity
	}
	return nil
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	return maps.Clone(c.Fields)
}
