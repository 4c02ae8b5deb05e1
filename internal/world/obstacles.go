package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"rewind-arena/server/internal/geom"
)

const (
	obstacleMinSize     = 100.0
	obstacleMaxSize     = 300.0
	obstacleMinHeight   = 200.0
	obstacleMaxHeight   = 400.0
	obstacleSpawnMargin = 200.0
	spawnSafeRadius     = 400.0
)

// Obstacle is a static blocking volume. Obstacles never move once the world is
// built.
type Obstacle struct {
	ID  string   `json:"id"`
	Box geom.Box `json:"-"`
}

// Footprint reports the obstacle's ground rectangle as min/max corners.
func (o Obstacle) Footprint() (minX, minY, maxX, maxY float64) {
	c, e := o.Box.Center, o.Box.HalfExtents
	return c.X() - e.X(), c.Y() - e.Y(), c.X() + e.X(), c.Y() + e.Y()
}

// GenerateObstacles scatters axis-aligned pillars around the arena, keeping the
// central spawn area clear.
func GenerateObstacles(cfg Config) []Obstacle {
	cfg = cfg.normalized()
	if !cfg.Obstacles || cfg.ObstaclesCount == 0 {
		return nil
	}

	rng := layoutRNG(cfg.Seed, "obstacles.pillars")
	obstacles := make([]Obstacle, 0, cfg.ObstaclesCount)
	maxAttempts := cfg.ObstaclesCount * 20
	center := mgl64.Vec2{cfg.Width / 2, cfg.Depth / 2}

	for attempts := 0; len(obstacles) < cfg.ObstaclesCount && attempts < maxAttempts; attempts++ {
		width := uniform(rng, obstacleMinSize, obstacleMaxSize)
		depth := uniform(rng, obstacleMinSize, obstacleMaxSize)
		height := uniform(rng, obstacleMinHeight, obstacleMaxHeight)

		x := uniform(rng, obstacleSpawnMargin+width/2, cfg.Width-obstacleSpawnMargin-width/2)
		y := uniform(rng, obstacleSpawnMargin+depth/2, cfg.Depth-obstacleSpawnMargin-depth/2)

		candidate := Obstacle{
			ID: fmt.Sprintf("obstacle-%d", len(obstacles)+1),
			Box: geom.Box{
				Center:      mgl64.Vec3{x, y, height / 2},
				Rotation:    mgl64.QuatIdent(),
				HalfExtents: mgl64.Vec3{width / 2, depth / 2, height / 2},
			},
		}
		if circleRectOverlap(center, spawnSafeRadius, candidate) {
			continue
		}
		overlaps := false
		for _, existing := range obstacles {
			if obstaclesOverlap(candidate, existing, characterRadius) {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		obstacles = append(obstacles, candidate)
	}
	return obstacles
}

func circleRectOverlap(center mgl64.Vec2, radius float64, obs Obstacle) bool {
	minX, minY, maxX, maxY := obs.Footprint()
	dx := center.X() - Clamp(center.X(), minX, maxX)
	dy := center.Y() - Clamp(center.Y(), minY, maxY)
	return dx*dx+dy*dy < radius*radius
}

func obstaclesOverlap(a, b Obstacle, padding float64) bool {
	aMinX, aMinY, aMaxX, aMaxY := a.Footprint()
	bMinX, bMinY, bMaxX, bMaxY := b.Footprint()
	return aMinX-padding < bMaxX && aMaxX+padding > bMinX &&
		aMinY-padding < bMaxY && aMaxY+padding > bMinY
}

// Clamp limits value to the range [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
