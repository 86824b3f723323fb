package mock

import (
	"context"
	"time"

	"github.com/voxlane/parley/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	Delay        time.Duration
	Err          error
	Usage        llm.Usage
}

type LLMAdapter struct {
	cfg LLMConfig
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if a.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		case <-time.After(a.cfg.Delay):
		}
	}
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	return llm.Response{Text: a.cfg.ResponseText, Usage: a.cfg.Usage}, nil
}

var _ llm.Adapter = (*LLMAdapter)(nil)
