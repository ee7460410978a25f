package pipeline

import "sync/atomic"

// Gate is the backpressure-budget counter of spec §4.7/§5: protected by
// atomic increment/decrement, with Reached a plain comparison. Modeled
// directly on original_source/backup/multi/backpressure.py's
// BackpressureManager (register_pressure/unregister_pressure/reached).
type Gate struct {
	max     int64
	current atomic.Int64
}

// NewGate returns a Gate with the given budget.
func NewGate(max int) *Gate { return &Gate{max: int64(max)} }

// Register increments the in-flight count.
func (g *Gate) Register() { g.current.Add(1) }

// Unregister decrements the in-flight count.
func (g *Gate) Unregister() { g.current.Add(-1) }

// Reached reports whether the in-flight count has hit the budget.
func (g *Gate) Reached() bool { return g.current.Load() >= g.max }
