package supervisor

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Result describes one finished room run.
type Result struct {
	Room     string
	Started  time.Time
	Finished time.Time
	Err      error
}

// Duration returns how long the run lasted.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// History keeps the most recent result per room, evicting the least
// recently touched rooms first.
type History struct {
	*lru.Cache[string, Result]
}

// NewHistory creates a history of size rooms. onEvict, if set, is called
// with every room that drops out.
func NewHistory(size int, onEvict func(room string)) (*History, error) {
	cache, err := lru.NewWithEvict[string, Result](size, func(room string, _ Result) {
		if onEvict != nil {
			onEvict(room)
		}
	})
	if err != nil {
		return nil, err
	}

	return &History{Cache: cache}, nil
}

// Record stores r as the latest result for its room.
func (h *History) Record(r Result) {
	h.Cache.Add(r.Room, r)
}

// Latest returns the latest result for room.
func (h *History) Latest(room string) (Result, bool) {
	return h.Cache.Get(room)
}
