package queue

import (
	"log/slog"
	"sync"
)

// presets enumerates per-provider admission budgets: requests per 60s window
// and the concurrency cap. Hosted APIs get provider-published ballpark
// limits; local engines serialize.
var presets = map[string]Config{
	"openai":     {RateLimit: 60, MaxConcurrent: 5},
	"anthropic":  {RateLimit: 50, MaxConcurrent: 4},
	"groq":       {RateLimit: 30, MaxConcurrent: 8},
	"cerebras":   {RateLimit: 100, MaxConcurrent: 10},
	"openrouter": {RateLimit: 60, MaxConcurrent: 5},
	"together":   {RateLimit: 60, MaxConcurrent: 5},
	"ollama":     {RateLimit: 10, MaxConcurrent: 1},
	"vllm":       {RateLimit: 10, MaxConcurrent: 1},
	"lmstudio":   {RateLimit: 10, MaxConcurrent: 1},
	"llamacpp":   {RateLimit: 10, MaxConcurrent: 1},
}

var defaultPreset = Config{RateLimit: 60, MaxConcurrent: 5}

// PresetFor returns the admission budget for a provider name.
func PresetFor(provider string) Config {
	if cfg, ok := presets[provider]; ok {
		return cfg
	}
	return defaultPreset
}

// Manager lazily creates one Queue per provider.
type Manager struct {
	logger    *slog.Logger
	overrides map[string]Config

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewManager creates a Manager. overrides replace presets per provider and
// may be nil.
func NewManager(overrides map[string]Config, logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger,
		overrides: overrides,
		queues:    make(map[string]*Queue),
	}
}

// Get returns the queue for a provider, creating it on first use.
func (m *Manager) Get(provider string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[provider]; ok {
		return q
	}
	cfg, ok := m.overrides[provider]
	if !ok {
		cfg = PresetFor(provider)
	}
	q := New(provider, cfg, m.logger)
	m.queues[provider] = q
	return q
}

// Stats returns snapshots for all live queues.
func (m *Manager) Stats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stats, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q.Stats())
	}
	return out
}

// PauseAll pauses every live queue.
func (m *Manager) PauseAll() {
	for _, q := range m.snapshot() {
		q.Pause()
	}
}

// ResumeAll resumes every live queue.
func (m *Manager) ResumeAll() {
	for _, q := range m.snapshot() {
		q.Resume()
	}
}

// Close clears and closes every live queue.
func (m *Manager) Close() {
	for _, q := range m.snapshot() {
		q.Close()
	}
}

func (m *Manager) snapshot() []*Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q)
	}
	return out
}
