package guard

import "sync"

// Generations tracks a per-context epoch counter. An async load captures
// the context's generation when it starts; the context bumps its counter
// whenever it changes (the user navigated elsewhere); on completion the
// result is applied only if the captured generation is still live.
// Nothing is forcibly aborted — stale results are simply droppable.
type Generations struct {
	mu   sync.Mutex
	live map[string]uint64
}

func NewGenerations() *Generations {
	return &Generations{live: make(map[string]uint64)}
}

// Current returns the live generation for the context key.
func (g *Generations) Current(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live[key]
}

// Bump invalidates all in-flight loads for the context key and returns
// the new generation.
func (g *Generations) Bump(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.live[key]++
	return g.live[key]
}

// Still reports whether a result captured at gen may still be applied.
func (g *Generations) Still(key string, gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live[key] == gen
}
