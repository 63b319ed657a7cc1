package agentpipe

import (
	"sync"

	"github.com/git5001/agentpipe/engine"
)

// FactoryFunc builds an agent from its config definition.
type FactoryFunc func(def AgentDef) (engine.Agent, error)

type registry struct {
	mu           sync.RWMutex
	factories    map[string]FactoryFunc
	transformers map[string]engine.Transformer
	conditions   map[string]engine.Condition
}

var defaultRegistry = &registry{
	factories:    make(map[string]FactoryFunc),
	transformers: make(map[string]engine.Transformer),
	conditions:   make(map[string]engine.Condition),
}

// Register installs an agent factory under a kind name. Agent packages call
// this from init so YAML pipelines can name them.
func Register(kind string, factory FactoryFunc) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.factories[kind] = factory
}

// GetFactory looks up an agent factory by kind.
func GetFactory(kind string) (FactoryFunc, bool) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	f, ok := defaultRegistry.factories[kind]
	return f, ok
}

// RegisterTransformer installs a named transformer for use in connection
// definitions.
func RegisterTransformer(name string, t engine.Transformer) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.transformers[name] = t
}

// GetTransformer looks up a named transformer.
func GetTransformer(name string) (engine.Transformer, bool) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	t, ok := defaultRegistry.transformers[name]
	return t, ok
}

// RegisterCondition installs a named condition for use in connection
// definitions.
func RegisterCondition(name string, c engine.Condition) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.conditions[name] = c
}

// GetCondition looks up a named condition.
func GetCondition(name string) (engine.Condition, bool) {
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	c, ok := defaultRegistry.conditions[name]
	return c, ok
}
