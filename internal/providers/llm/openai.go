package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIOptions controls how the OpenAI completer is configured.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI implements Completer on the OpenAI chat completions API. Retries
// belong to the pipeline's policy layer, so the client reports failures
// with transience hints instead of retrying internally.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(base))
	}

	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAI{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Model returns the configured model identifier.
func (o *OpenAI) Model() string {
	return o.model
}

func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if sys := strings.TrimSpace(req.System); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(o.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONOutput {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return CompletionResponse{}, ctx.Err()
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return CompletionResponse{}, &ProviderError{
				Provider:  "openai",
				Status:    apiErr.StatusCode,
				Message:   apiErr.Message,
				Transient: classifyStatus(apiErr.StatusCode),
			}
		}
		return CompletionResponse{}, &ProviderError{Provider: "openai", Message: err.Error(), Transient: true}
	}

	if len(completion.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("no completion choices returned")
	}

	return CompletionResponse{
		Content:    completion.Choices[0].Message.Content,
		Model:      string(completion.Model),
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

var (
	_ Completer = (*OpenAI)(nil)
	_ Completer = (*Gemini)(nil)
)
