package openai

import gateway "github.com/eugener/radagast/internal"

// Preset describes an OpenAI-compatible upstream: endpoint, capabilities, and
// the static model list used when the upstream has no usable /models endpoint.
type Preset struct {
	BaseURL      string
	Capabilities gateway.Capability
	StaticModels []string // nil = query GET /models
	Local        bool     // plain HTTP/1.1 local engine
}

// presets enumerates the known members of the OpenAI-compatible family.
// Providers not listed here (type "custom") must supply a base URL.
var presets = map[string]Preset{
	"openai": {
		BaseURL:      "https://api.openai.com/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools | gateway.CapVision | gateway.CapEmbedding,
	},
	"groq": {
		BaseURL:      "https://api.groq.com/openai/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
	},
	"cerebras": {
		BaseURL:      "https://api.cerebras.ai/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
	},
	"deepseek": {
		BaseURL:      "https://api.deepseek.com/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
		StaticModels: []string{"deepseek-chat", "deepseek-reasoner"},
	},
	"moonshot": {
		BaseURL:      "https://api.moonshot.cn/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
	},
	"qwen": {
		BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
	},
	"mistral": {
		BaseURL:      "https://api.mistral.ai/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
	},
	"together": {
		BaseURL:      "https://api.together.xyz/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
	},
	"openrouter": {
		BaseURL:      "https://openrouter.ai/api/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools | gateway.CapVision,
	},
	"glm": {
		BaseURL:      "https://open.bigmodel.cn/api/paas/v4",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
		StaticModels: []string{"glm-4-plus", "glm-4-flash"},
	},
	"ollama": {
		BaseURL:      "http://localhost:11434/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming,
		Local:        true,
	},
	"vllm": {
		BaseURL:      "http://localhost:8000/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming | gateway.CapTools,
		Local:        true,
	},
	"lmstudio": {
		BaseURL:      "http://localhost:1234/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming,
		Local:        true,
	},
	"llamacpp": {
		BaseURL:      "http://localhost:8080/v1",
		Capabilities: gateway.CapChat | gateway.CapStreaming,
		Local:        true,
	},
}

// LookupPreset returns the preset for a family member, or ok=false for
// "custom" and unknown names.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// FamilyMembers returns the names of all known OpenAI-compatible providers.
func FamilyMembers() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	return names
}
