package assistant

import "strings"

// NewProvider picks the Provider implementation for endpoint. Anthropic
// and Anthropic-compatible gateways are detected by the word "anthropic"
// appearing anywhere in the endpoint URL (case-insensitive); everything
// else (OpenAI, Ollama, vLLM, LM Studio, ...) speaks the OpenAI wire
// protocol, which is the common denominator the teacher's own gateway
// config falls back to.
func NewProvider(endpoint, apiKey, model string) Provider {
	if looksAnthropic(endpoint) {
		return NewAnthropicProvider(apiKey, endpoint, model)
	}
	return NewOpenAIProvider(apiKey, endpoint, model)
}

func looksAnthropic(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "anthropic")
}
