package runner

import (
	"fmt"
	"sync"

	"github.com/nfa-labs/agentrunner/pkg/models"
)

// BrainFactoryContext carries the per-agent configuration a Brain factory
// needs: the strategy params from the persisted StrategyConfig and the blueprint's optional LLM
// config, keeping capability construction free of any global state.
type BrainFactoryContext struct {
	StrategyParams map[string]any
	LLMConfig      *models.LLMConfig
}

type (
	BrainFactory      func(BrainFactoryContext) (Brain, error)
	PerceptionFactory func(models.ChainAgentData) (Perception, error)
	ActionFactory     func(models.ChainAgentData) (Action, error)
	MemoryFactory     func(models.ChainAgentData) (Memory, error)
	GuardrailsFactory func(models.ChainAgentData) (Guardrails, error)
)

// Registry holds the five typed capability-factory maps behind one lock
// (§4.8). Populated once at startup; lookups return an error, never a
// panic, on an unknown name, so a bad blueprint fails one agent's build
// rather than the process.
type Registry struct {
	mu          sync.RWMutex
	brains      map[string]BrainFactory
	perceptions map[string]PerceptionFactory
	actions     map[string]ActionFactory
	memories    map[string]MemoryFactory
	guardrails  map[string]GuardrailsFactory
}

func NewRegistry() *Registry {
	return &Registry{
		brains:      make(map[string]BrainFactory),
		perceptions: make(map[string]PerceptionFactory),
		actions:     make(map[string]ActionFactory),
		memories:    make(map[string]MemoryFactory),
		guardrails:  make(map[string]GuardrailsFactory),
	}
}

func (r *Registry) RegisterBrain(name string, f BrainFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.brains[name] = f
}

func (r *Registry) RegisterPerception(name string, f PerceptionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perceptions[name] = f
}

func (r *Registry) RegisterAction(name string, f ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = f
}

func (r *Registry) RegisterMemory(name string, f MemoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memories[name] = f
}

func (r *Registry) RegisterGuardrails(name string, f GuardrailsFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guardrails[name] = f
}

func (r *Registry) Brain(name string, ctx BrainFactoryContext) (Brain, error) {
	r.mu.RLock()
	f, ok := r.brains[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runner: no brain registered under %q", name)
	}
	return f(ctx)
}

func (r *Registry) Perception(name string, data models.ChainAgentData) (Perception, error) {
	r.mu.RLock()
	f, ok := r.perceptions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runner: no perception registered under %q", name)
	}
	return f(data)
}

func (r *Registry) Action(name string, data models.ChainAgentData) (Action, error) {
	r.mu.RLock()
	f, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runner: no action registered under %q", name)
	}
	return f(data)
}

func (r *Registry) Memory(name string, data models.ChainAgentData) (Memory, error) {
	r.mu.RLock()
	f, ok := r.memories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runner: no memory registered under %q", name)
	}
	return f(data)
}

func (r *Registry) GuardrailsOf(name string, data models.ChainAgentData) (Guardrails, error) {
	r.mu.RLock()
	f, ok := r.guardrails[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runner: no guardrails registered under %q", name)
	}
	return f(data)
}
