package llm

import "context"

type Message struct {
	Role    string
	Content string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Adapter is a provider-agnostic language model client. The filler path
// uses Generate with a hard token ceiling; streaming of the primary
// response happens outside this engine and arrives as ModelTextDelta
// events.
type Adapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}
