// Package variables merges manually entered workflow variables with the variables declared by response
// extractors of http-request nodes.
package variables

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/dukex/apiflow/pkg/models"
)

// ExtractorStripper removes extractor declarations from node configurations.
type ExtractorStripper interface {
	StripExtractors(names []string) int
}

// Listener receives the merged variable map after each change.
type Listener func(models.VariableMap)

// Registry exclusively owns the merged variable map. Node configurations are a read-only input,
// passed in through RegisterExtractors.
type Registry struct {
	mu   sync.RWMutex
	vars models.VariableMap
	// extractorKeys holds the extractor set of the previous registration pass. It is kept apart
	// from vars and changing it alone never notifies listeners.
	extractorKeys map[string]string
	listeners     []Listener
	logger        *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		vars:          models.VariableMap{},
		extractorKeys: map[string]string{},
		logger:        logger,
	}
}

// Subscribe registers a listener. Listeners live as long as the registry.
func (r *Registry) Subscribe(listener Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, listener)
}

func (r *Registry) notify(vars models.VariableMap) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()

	for _, listener := range listeners {
		listener(vars.Clone())
	}
}

// Variables returns a copy of the merged map.
func (r *Registry) Variables() models.VariableMap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.vars.Clone()
}

// ExtractorOwned reports whether name was registered by an extractor in the last pass.
func (r *Registry) ExtractorOwned(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.extractorKeys[name]

	return ok
}

// Load replaces the registry content with saved variables. Saved keys that are still declared by
// extractors are treated as extractor owned.
func (r *Registry) Load(vars models.VariableMap, extractors map[string]string) {
	r.mu.Lock()
	r.vars = vars.Clone()
	r.extractorKeys = make(map[string]string, len(extractors))

	for name, path := range extractors {
		if _, saved := r.vars[name]; saved {
			r.extractorKeys[name] = path
		}
	}

	r.mu.Unlock()

	r.RegisterExtractors(extractors)
}

// RegisterExtractors merges the extractor declarations of all nodes into the variable map.
//
// Keys owned by extractors in the previous pass are dropped and re-added from the current
// declarations, so a variable whose extractor was removed from every node disappears. Keys that were
// not extractor owned are kept untouched, even when an extractor now declares the same name: manual
// ownership wins and such a key does not become extractor owned.
func (r *Registry) RegisterExtractors(extractors map[string]string) models.VariableMap {
	r.mu.Lock()

	next := make(models.VariableMap, len(r.vars)+len(extractors))

	for name, value := range r.vars {
		if _, owned := r.extractorKeys[name]; !owned {
			next[name] = value
		}
	}

	owned := make(map[string]string, len(extractors))

	for name, path := range extractors {
		if _, manual := next[name]; manual {
			continue
		}

		next[name] = path
		owned[name] = path
	}

	changed := !maps.Equal(r.vars, next)
	r.vars = next
	r.extractorKeys = owned
	r.mu.Unlock()

	if changed {
		r.logger.Debug("Variables resynced with extractors", "variables", len(next), "extractors", len(owned))
		r.notify(next)
	}

	return next.Clone()
}

// Set stores a manual variable. Editing an extractor owned variable makes it manual.
func (r *Registry) Set(name, value string) {
	r.mu.Lock()
	r.vars = r.vars.Clone()
	r.vars[name] = value
	delete(r.extractorKeys, name)
	vars := r.vars
	r.mu.Unlock()

	r.notify(vars)
}

// Delete removes variables from the map only. An extractor still declaring one of them brings it back
// on the next registration pass; use DeleteVariablesWithCleanup to prevent that.
func (r *Registry) Delete(names ...string) {
	r.mu.Lock()

	removed := false
	vars := r.vars.Clone()

	for _, name := range names {
		if _, ok := vars[name]; ok {
			delete(vars, name)

			removed = true
		}

		delete(r.extractorKeys, name)
	}

	r.vars = vars
	r.mu.Unlock()

	if removed {
		r.notify(vars)
	}
}

// DeleteVariablesWithCleanup removes variables and, before returning, strips the extractors declaring
// them from every node so they cannot be resurrected by the next registration pass.
func (r *Registry) DeleteVariablesWithCleanup(names []string, stripper ExtractorStripper) {
	r.Delete(names...)

	stripped := stripper.StripExtractors(names)

	r.logger.Info("Variables deleted", "names", names, "nodes_cleaned", stripped)
}

// CollectExtractors gathers the extractor declarations of every http-request node in node order.
// On a name declared twice the later node wins.
func CollectExtractors(nodes []*models.Node) map[string]string {
	extractors := map[string]string{}

	for _, node := range nodes {
		maps.Copy(extractors, node.Extractors())
	}

	return extractors
}
