package upstream

import (
	"sort"
	"sync"
)

// Registry is the authoritative set of symbols the caller wants
// streamed. It is independent of connection state and survives
// arbitrarily many reconnects; intents issued while the socket is down
// are captured here and replayed wholesale on the next open.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{symbols: make(map[string]struct{})}
}

// Add inserts a symbol and reports whether the set changed.
func (r *Registry) Add(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.symbols[symbol]; ok {
		return false
	}
	r.symbols[symbol] = struct{}{}
	return true
}

// Remove deletes a symbol and reports whether the set changed.
func (r *Registry) Remove(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.symbols[symbol]; !ok {
		return false
	}
	delete(r.symbols, symbol)
	return true
}

// Contains reports whether a symbol is in the set.
func (r *Registry) Contains(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.symbols[symbol]
	return ok
}

// Snapshot returns the current symbols, sorted for stable output.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for s := range r.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.symbols)
}

// Clear removes every symbol.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.symbols = make(map[string]struct{})
}
