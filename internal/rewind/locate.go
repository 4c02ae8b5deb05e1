package rewind

import (
	"math"
	"sort"

	"rewind-arena/server/internal/geom"
)

// TimestampEpsilon is the tolerance under which a query is treated as landing
// exactly on a recorded frame.
const TimestampEpsilon = 1e-4

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= TimestampEpsilon
}

// Locate returns the frame describing the history's character at timestamp. Queries between two
// recorded frames are interpolated, queries at or past the newest frame clamp
// to it, and queries older than the retained window return InvalidFrame.
func Locate(history *History, timestamp float64) FrameSnapshot {
	n := history.Len()
	if n == 0 || math.IsNaN(timestamp) {
		return InvalidFrame()
	}

	// older is the newest frame whose timestamp does not exceed the query.
	older := sort.Search(n, func(i int) bool {
		return history.At(i).Timestamp > timestamp
	}) - 1

	if older < 0 {
		oldest := history.At(0)
		if nearlyEqual(oldest.Timestamp, timestamp) {
			return oldest
		}
		return InvalidFrame()
	}

	olderFrame := history.At(older)
	if nearlyEqual(olderFrame.Timestamp, timestamp) {
		return olderFrame
	}
	if older == n-1 {
		return olderFrame
	}
	return Interpolate(olderFrame, history.At(older+1), timestamp)
}

// Interpolate blends two bracketing frames at timestamp. Positions are lerped,
// rotations slerped, extents come from the younger frame and the
// invulnerability flag from whichever frame is closer in time.
func Interpolate(older, younger FrameSnapshot, timestamp float64) FrameSnapshot {
	if older.Character != younger.Character {
		return InvalidFrame()
	}
	interval := younger.Timestamp - older.Timestamp
	alpha := 1.0
	if interval > 0 {
		alpha = geom.Clamp01((timestamp - older.Timestamp) / interval)
	}

	invulnerable := younger.Invulnerable
	if math.Abs(timestamp-older.Timestamp) <= math.Abs(timestamp-younger.Timestamp) {
		invulnerable = older.Invulnerable
	}

	frame := FrameSnapshot{
		Timestamp:    timestamp,
		Character:    older.Character,
		Invulnerable: invulnerable,
		Hitboxes:     make(map[string]HitboxSnapshot, len(younger.Hitboxes)),
	}
	for name, young := range younger.Hitboxes {
		old, ok := older.Hitboxes[name]
		if !ok {
			frame.Hitboxes[name] = young
			continue
		}
		frame.Hitboxes[name] = HitboxSnapshot{
			Position: geom.Lerp(old.Position, young.Position, alpha),
			Rotation: geom.Slerp(old.Rotation, young.Rotation, alpha),
			Extents:  young.Extents,
		}
	}
	return frame
}
