package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/providers/llm"
)

// Intent is the structured interpretation of the user's prompt that the
// layout and content stages build on.
type Intent struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Objectives []string `json:"objectives"`
	Tone       string   `json:"tone"`
	Audience   string   `json:"audience"`
	Locale     string   `json:"locale"`
}

const intentSystem = `You analyze a request for a generated document and reply
with a JSON object: {"title","summary","objectives","tone","audience"}.
Objectives is a short list of concrete goals. Reply with JSON only.`

// IntentWorker distils the raw prompt into a structured intent.
type IntentWorker struct {
	Model llm.Completer
}

func (w *IntentWorker) Run(ctx context.Context, req pipeline.StageRequest) (json.RawMessage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Output type: %s\n", req.OutputType)
	fmt.Fprintf(&b, "Prompt: %s\n", req.Request.Prompt)
	meta := req.Request.Meta
	if meta.Tone != "" {
		fmt.Fprintf(&b, "Requested tone: %s\n", meta.Tone)
	}
	if meta.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", meta.Audience)
	}
	if meta.Brand != "" {
		fmt.Fprintf(&b, "Brand: %s\n", meta.Brand)
	}
	if meta.Budget != "" {
		fmt.Fprintf(&b, "Budget: %s\n", meta.Budget)
	}
	if meta.Timeline != "" {
		fmt.Fprintf(&b, "Timeline: %s\n", meta.Timeline)
	}

	content, err := complete(ctx, w.Model, llm.CompletionRequest{
		System:      intentSystem,
		Prompt:      b.String(),
		Temperature: 0.3,
		MaxTokens:   1024,
		JSONOutput:  true,
	})
	if err != nil {
		return nil, err
	}

	var intent Intent
	if err := decodeModelJSON(content, &intent); err != nil {
		return nil, err
	}
	normalizeIntent(&intent, req)

	return json.Marshal(intent)
}

// normalizeIntent fills the fields a weak or synthetic model reply leaves
// blank so downstream stages always see a complete intent.
func normalizeIntent(intent *Intent, req pipeline.StageRequest) {
	meta := req.Request.Meta
	intent.Title = coalesce(intent.Title, titleFromPrompt(req.Request.Prompt, req.OutputType))
	intent.Summary = coalesce(intent.Summary, strings.TrimSpace(req.Request.Prompt))
	intent.Tone = coalesce(intent.Tone, coalesce(meta.Tone, "professional"))
	intent.Audience = coalesce(intent.Audience, coalesce(meta.Audience, "general"))
	intent.Locale = coalesce(intent.Locale, coalesce(meta.Locale, "en"))
	if len(intent.Objectives) == 0 {
		intent.Objectives = []string{"address the request: " + intent.Summary}
	}
}

func titleFromPrompt(prompt string, outputType domain.OutputType) string {
	fields := strings.Fields(strings.TrimSpace(prompt))
	if len(fields) > 8 {
		fields = fields[:8]
	}
	if len(fields) == 0 {
		return cases.Title(language.English).String(string(outputType))
	}
	return cases.Title(language.English).String(strings.Join(fields, " "))
}
