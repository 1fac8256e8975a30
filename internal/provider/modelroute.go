package provider

import (
	"fmt"
	"regexp"
	"strings"

	gateway "github.com/eugener/radagast/internal"
)

// modelPatterns route bare model IDs to provider names. First match wins.
var modelPatterns = []struct {
	re       *regexp.Regexp
	provider string
}{
	{regexp.MustCompile(`^(gpt-|o1-|o3-?|o4-?|chatgpt)`), "openai"},
	{regexp.MustCompile(`^claude`), "anthropic"},
	{regexp.MustCompile(`^gemini`), "google"},
	{regexp.MustCompile(`^command`), "cohere"},
	{regexp.MustCompile(`^deepseek`), "deepseek"},
	{regexp.MustCompile(`^(qwen|qwq)`), "qwen"},
	{regexp.MustCompile(`^(moonshot|kimi)`), "moonshot"},
	{regexp.MustCompile(`^(glm-|chatglm)`), "glm"},
	{regexp.MustCompile(`^(llama.*groq|groq)`), "groq"},
	{regexp.MustCompile(`^(mistral|mixtral|codestral)`), "mistral"},
	{regexp.MustCompile(`^(llama|gemma|phi|smollm)`), "ollama"},
}

// ResolveModel maps a requested model ID to a (provider, model) pair.
//
// An explicit "provider/model" prefix wins when the prefix names a registered
// provider (split on the first slash only, so "openrouter/meta/llama-3" keeps
// its nested path). Otherwise the model ID is matched against the pattern
// table, and any pattern whose provider is not registered falls through to the
// registry default.
func (r *Registry) ResolveModel(model string) (providerName, actualModel string, err error) {
	if model == "" {
		return "", "", fmt.Errorf("%w: model is required", gateway.ErrBadRequest)
	}

	if i := strings.IndexByte(model, '/'); i > 0 {
		if prefix := model[:i]; r.Has(prefix) {
			return prefix, model[i+1:], nil
		}
	}

	for _, p := range modelPatterns {
		if p.re.MatchString(model) && r.Has(p.provider) {
			return p.provider, model, nil
		}
	}

	def := r.Default()
	if def == "" {
		return "", "", fmt.Errorf("%w: no provider for model %q", gateway.ErrNotFound, model)
	}
	return def, model, nil
}
