package rewind

import (
	"errors"
	"fmt"
	"math"
)

// DefaultHistoryFrames holds roughly four seconds at a 60 Hz tick.
const DefaultHistoryFrames = 240

var (
	// ErrNonMonotonic is returned when a frame does not advance the timeline.
	ErrNonMonotonic = errors.New("rewind: frame timestamp does not advance history")
	// ErrInvalidTimestamp is returned for NaN or infinite frame timestamps.
	ErrInvalidTimestamp = errors.New("rewind: frame timestamp is not finite")
)

// History is a fixed-capacity ring of frames for a single character. Once full
// the oldest frame is overwritten. It is not safe for concurrent use; callers
// hold the owning character's lock.
type History struct {
	frames []FrameSnapshot
	next   int
	count  int
}

// NewHistory allocates a ring with room for capacity frames.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{frames: make([]FrameSnapshot, capacity)}
}

// Capacity reports the maximum number of retained frames.
func (h *History) Capacity() int {
	if h == nil {
		return 0
	}
	return len(h.frames)
}

// Len reports the number of retained frames.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return h.count
}

// Append stores frame as the newest entry. Timestamps must strictly increase.
func (h *History) Append(frame FrameSnapshot) error {
	if math.IsNaN(frame.Timestamp) || math.IsInf(frame.Timestamp, 0) {
		return ErrInvalidTimestamp
	}
	if newest, ok := h.Newest(); ok && frame.Timestamp <= newest.Timestamp {
		return fmt.Errorf("%w: %v after %v", ErrNonMonotonic, frame.Timestamp, newest.Timestamp)
	}
	h.frames[h.next] = frame
	h.next = (h.next + 1) % len(h.frames)
	if h.count < len(h.frames) {
		h.count++
	}
	return nil
}

// At returns the i-th retained frame, 0 being the oldest.
func (h *History) At(i int) FrameSnapshot {
	if h == nil || i < 0 || i >= h.count {
		return InvalidFrame()
	}
	start := (h.next - h.count + len(h.frames)) % len(h.frames)
	return h.frames[(start+i)%len(h.frames)]
}

// Oldest returns the oldest retained frame.
func (h *History) Oldest() (FrameSnapshot, bool) {
	if h.Len() == 0 {
		return InvalidFrame(), false
	}
	return h.At(0), true
}

// Newest returns the most recently appended frame.
func (h *History) Newest() (FrameSnapshot, bool) {
	if h.Len() == 0 {
		return InvalidFrame(), false
	}
	return h.At(h.count - 1), true
}

// Span reports the timestamps of the oldest and newest retained frames.
func (h *History) Span() (oldest, newest float64, ok bool) {
	first, ok := h.Oldest()
	if !ok {
		return 0, 0, false
	}
	last, _ := h.Newest()
	return first.Timestamp, last.Timestamp, true
}

// Reset discards every retained frame.
func (h *History) Reset() {
	if h == nil {
		return
	}
	for i := range h.frames {
		h.frames[i] = FrameSnapshot{}
	}
	h.next = 0
	h.count = 0
}
