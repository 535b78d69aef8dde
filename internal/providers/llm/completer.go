package llm

import (
	"context"
	"fmt"
)

// CompletionRequest carries a single prompt exchange to a model provider.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSONOutput asks the provider to constrain the reply to a JSON object.
	JSONOutput bool
}

// CompletionResponse is the normalized provider reply.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensUsed int
}

// Completer abstracts a text model provider so stage workers can be tested
// against stubs and swapped between vendors without changes.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// ProviderError is an API-level failure with enough context for the pipeline
// to decide between retrying and giving up.
type ProviderError struct {
	Provider  string
	Status    int
	Message   string
	Transient bool
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// classifyStatus marks rate limits and server-side errors retryable; other
// API rejections mean the request itself is bad.
func classifyStatus(status int) bool {
	return status == 429 || status >= 500
}
