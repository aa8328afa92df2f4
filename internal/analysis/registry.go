package analysis

import (
	"fmt"
	"strings"
	"sync"
)

// AnalyzerFactory builds an analyzer from deploy-time configuration.
type AnalyzerFactory func() (Analyzer, error)

// Registry routes the ANALYSIS_PROVIDER setting to an analyzer backend.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]AnalyzerFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]AnalyzerFactory)}
}

func (r *Registry) Register(name string, f AnalyzerFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(name string) (Analyzer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown analysis provider: %s", name)
	}
	return f()
}
