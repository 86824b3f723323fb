package parley

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxlane/parley/pkg/configutil"
	"github.com/voxlane/parley/pkg/llm"
	"github.com/voxlane/parley/pkg/providers/mock"
	"github.com/voxlane/parley/pkg/providers/openai"
	"github.com/voxlane/parley/pkg/resilience"
)

// LLMFactory builds a language-model adapter from the vendor settings map.
type LLMFactory func(cfg Config) (llm.Adapter, error)

// ProviderRegistry maps vendor names to adapter factories. The built-in
// providers are registered up front; callers add their own before the
// engine starts.
type ProviderRegistry struct {
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{llm: make(map[string]LLMFactory)}
	r.RegisterLLM("openai", buildOpenAI)
	r.RegisterLLM("mock", buildMock)
	return r
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Adapter, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMS int    `mapstructure:"circuit_cooldown_ms"`
}

func buildOpenAI(cfg Config) (llm.Adapter, error) {
	settings := cfg.Vendors.LLM.Settings
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
	}); err != nil {
		return nil, fmt.Errorf("openai settings: %w", err)
	}
	var s openAISettings
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, err
	}
	if err := configutil.RequireString(s.APIKey, "vendors.llm.settings.api_key"); err != nil {
		return nil, err
	}
	if s.Model == "" {
		s.Model = "gpt-4o-mini"
	}
	adapter := openai.NewAdapter(s.APIKey, s.Model)
	if s.BaseURL != "" {
		adapter.BaseURL = s.BaseURL
	}
	if configutil.BoolValue(s.UseCircuitBreaker, false) {
		cooldown := time.Duration(s.CircuitCooldownMS) * time.Millisecond
		breaker := resilience.NewCircuitBreaker(s.CircuitThreshold, cooldown)
		return llm.NewCircuitBreakerAdapter(adapter, breaker), nil
	}
	return adapter, nil
}

type mockSettings struct {
	ResponseText string `mapstructure:"response_text"`
	DelayMS      int    `mapstructure:"delay_ms"`
}

func buildMock(cfg Config) (llm.Adapter, error) {
	var s mockSettings
	if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &s); err != nil {
		return nil, err
	}
	return mock.NewLLMAdapter(mock.LLMConfig{
		ResponseText: s.ResponseText,
		Delay:        time.Duration(s.DelayMS) * time.Millisecond,
	}), nil
}
