package world

import "strings"

const (
	DefaultSeed          = "arena"
	DefaultWidth         = 4000.0
	DefaultDepth         = 4000.0
	DefaultMoveSpeed     = 600.0
	DefaultDodgeDuration = 0.5
	DefaultStandHeight   = 90.0
	DefaultMuzzleHeight  = 60.0
	DefaultProjectileTTL = 5.0
)

type Config struct {
	Obstacles      bool    `json:"obstacles" yaml:"obstacles"`
	ObstaclesCount int     `json:"obstaclesCount" yaml:"obstaclesCount"`
	Seed           string  `json:"seed" yaml:"seed"`
	Width          float64 `json:"width" yaml:"width"`
	Depth          float64 `json:"depth" yaml:"depth"`
	MoveSpeed      float64 `json:"moveSpeed" yaml:"moveSpeed"`
	DodgeDuration  float64 `json:"dodgeDuration" yaml:"dodgeDuration"`
	StandHeight    float64 `json:"standHeight" yaml:"standHeight"`
	MuzzleHeight   float64 `json:"muzzleHeight" yaml:"muzzleHeight"`
	ProjectileTTL  float64 `json:"projectileTtl" yaml:"projectileTtl"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	normalized.Seed = strings.TrimSpace(normalized.Seed)
	if normalized.Seed == "" {
		normalized.Seed = DefaultSeed
	}
	if normalized.ObstaclesCount < 0 {
		normalized.ObstaclesCount = 0
	}
	if normalized.Width <= 0 {
		normalized.Width = DefaultWidth
	}
	if normalized.Depth <= 0 {
		normalized.Depth = DefaultDepth
	}
	if normalized.MoveSpeed <= 0 {
		normalized.MoveSpeed = DefaultMoveSpeed
	}
	if normalized.DodgeDuration <= 0 {
		normalized.DodgeDuration = DefaultDodgeDuration
	}
	if normalized.StandHeight <= 0 {
		normalized.StandHeight = DefaultStandHeight
	}
	if normalized.MuzzleHeight <= 0 {
		normalized.MuzzleHeight = DefaultMuzzleHeight
	}
	if normalized.ProjectileTTL <= 0 {
		normalized.ProjectileTTL = DefaultProjectileTTL
	}
	return normalized
}

func (cfg Config) Normalized() Config {
	return cfg.normalized()
}

func DefaultConfig() Config {
	return Config{
		Obstacles:      true,
		ObstaclesCount: 6,
		Seed:           DefaultSeed,
		Width:          DefaultWidth,
		Depth:          DefaultDepth,
		MoveSpeed:      DefaultMoveSpeed,
		DodgeDuration:  DefaultDodgeDuration,
		StandHeight:    DefaultStandHeight,
		MuzzleHeight:   DefaultMuzzleHeight,
		ProjectileTTL:  DefaultProjectileTTL,
	}
}
