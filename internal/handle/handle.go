package handle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a handle string cannot be parsed.
var ErrMalformed = errors.New("handle: malformed")

// Handle references an arena slot together with the generation that was live
// when the handle was issued. The zero Handle never resolves.
type Handle struct {
	Index      uint32 `json:"index" msgpack:"i"`
	Generation uint32 `json:"generation" msgpack:"g"`
}

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

func (h Handle) String() string {
	return strconv.FormatUint(uint64(h.Index), 10) + ":" + strconv.FormatUint(uint64(h.Generation), 10)
}

// MarshalText encodes the handle as "<index>:<generation>".
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses the "<index>:<generation>" form.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Parse decodes a handle string.
func Parse(raw string) (Handle, error) {
	index, generation, ok := strings.Cut(raw, ":")
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	i, err := strconv.ParseUint(index, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: index: %v", ErrMalformed, err)
	}
	g, err := strconv.ParseUint(generation, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: generation: %v", ErrMalformed, err)
	}
	return Handle{Index: uint32(i), Generation: uint32(g)}, nil
}

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores values in reusable slots addressed by generation-checked
// handles. It is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
}

// Insert stores value and returns its handle.
func (a *Arena[T]) Insert(value T) Handle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		index = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{generation: 1})
	}
	s := &a.slots[index]
	s.value = value
	s.live = true
	a.count++
	return Handle{Index: index, Generation: s.generation}
}

// Get resolves h. Stale handles from a removed generation report false.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if h.IsZero() || int(h.Index) >= len(a.slots) {
		return zero, false
	}
	s := a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return zero, false
	}
	return s.value, true
}

// Set replaces the value behind a live handle.
func (a *Arena[T]) Set(h Handle, value T) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}
	a.slots[h.Index].value = value
	return true
}

// Remove releases the slot behind h and invalidates every outstanding handle
// to it.
func (a *Arena[T]) Remove(h Handle) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}
	var zero T
	s := &a.slots[h.Index]
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	a.free = append(a.free, h.Index)
	a.count--
	return true
}

// Len reports the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}

// Each visits live values in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for i := range a.slots {
		s := a.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle{Index: uint32(i), Generation: s.generation}, s.value) {
			return
		}
	}
}
