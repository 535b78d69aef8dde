package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/infra"
)

// GeminiOptions controls how the Gemini completer is configured.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Gemini calls the Gemini generateContent API for text completions. Without
// an API key it falls back to deterministic synthetic replies, which keeps
// the whole pipeline operational in local and CI environments.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiGenerateContentRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsage struct {
	TotalTokenCount int `json:"totalTokenCount,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewGemini constructs a Gemini completer with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with a timeout will be created.
func NewGemini(opts GeminiOptions) *Gemini {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Gemini{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}
}

// Model returns the configured Gemini model identifier.
func (g *Gemini) Model() string {
	return g.model
}

func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return CompletionResponse{}, err
	}

	if g.apiKey == "" {
		return g.synthetic(req), nil
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
	}
	if sys := strings.TrimSpace(req.System); sys != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: sys}}}
	}
	cfg := &geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.JSONOutput {
		cfg.ResponseMimeType = "application/json"
	}
	payload.GenerationConfig = cfg

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(g.model))
	if err := g.invoke(ctx, path, payload, &response); err != nil {
		return CompletionResponse{}, err
	}

	var b strings.Builder
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		break
	}
	if b.Len() == 0 {
		return CompletionResponse{}, &ProviderError{
			Provider: "gemini",
			Message:  "empty completion",
		}
	}

	tokens := 0
	if response.UsageMetadata != nil {
		tokens = response.UsageMetadata.TotalTokenCount
	}
	return CompletionResponse{Content: b.String(), Model: g.model, TokensUsed: tokens}, nil
}

func (g *Gemini) invoke(ctx context.Context, path string, payload any, out any) error {
	endpoint := g.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", g.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Transport faults are retryable unless the context already gave up.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ProviderError{Provider: "gemini", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		message := fmt.Sprintf("status %d", resp.StatusCode)
		var apiErr geminiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return &ProviderError{
			Provider:  "gemini",
			Status:    resp.StatusCode,
			Message:   message,
			Transient: classifyStatus(resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

// synthetic produces a deterministic JSON reply keyed off the prompt so the
// downstream stages always have parseable structure to work with.
func (g *Gemini) synthetic(req CompletionRequest) CompletionResponse {
	seed := syntheticSeed(req.System, req.Prompt)
	body := map[string]any{
		"synthetic": true,
		"seed":      seed,
		"summary":   syntheticSummary(req.Prompt),
	}
	data, _ := json.Marshal(body)

	g.logger.Debug().
		Str("model", g.model).
		Str("seed", seed).
		Msg("llm: generated synthetic completion")

	return CompletionResponse{Content: string(data), Model: g.model}
}

func syntheticSeed(parts ...string) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func syntheticSummary(prompt string) string {
	fields := strings.Fields(strings.TrimSpace(prompt))
	if len(fields) > 12 {
		fields = fields[:12]
	}
	if len(fields) == 0 {
		return "generated document"
	}
	return strings.Join(fields, " ")
}
