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

// Content holds the drafted prose for every section of the layout.
type Content struct {
	Sections []SectionContent `json:"sections"`
}

type SectionContent struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

const contentSystem = `You write the body for each planned section of a
deliverable. Reply with a JSON object:
{"sections":[{"id","heading","body"}]} covering every section you are given,
in order. Reply with JSON only.`

// ContentWorker drafts prose for every section in the layout.
type ContentWorker struct {
	Model llm.Completer
}

func (w *ContentWorker) Run(ctx context.Context, req pipeline.StageRequest) (json.RawMessage, error) {
	var intent Intent
	if err := priorOutput(req, domain.StateProcessingIntent, &intent); err != nil {
		return nil, err
	}
	var layout Layout
	if err := priorOutput(req, domain.StateProcessingLayout, &layout); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Deliverable: %s titled %q\n", layout.Kind, intent.Title)
	fmt.Fprintf(&b, "Tone: %s, audience: %s, locale: %s\n", intent.Tone, intent.Audience, intent.Locale)
	fmt.Fprintf(&b, "Summary: %s\n", intent.Summary)
	b.WriteString("Sections:\n")
	for _, s := range layout.Sections {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", s.ID, s.Heading, s.Purpose)
	}

	reply, err := complete(ctx, w.Model, llm.CompletionRequest{
		System:      contentSystem,
		Prompt:      b.String(),
		Temperature: 0.7,
		MaxTokens:   4096,
		JSONOutput:  true,
	})
	if err != nil {
		return nil, err
	}

	var content Content
	if err := decodeModelJSON(reply, &content); err != nil {
		return nil, err
	}
	alignContent(&content, layout, intent)

	return json.Marshal(content)
}

// alignContent forces the drafted sections back onto the layout plan: every
// planned section appears exactly once, in order, with non-empty prose.
func alignContent(content *Content, layout Layout, intent Intent) {
	drafted := make(map[string]SectionContent, len(content.Sections))
	for _, s := range content.Sections {
		if s.ID != "" {
			drafted[s.ID] = s
		}
	}

	aligned := make([]SectionContent, 0, len(layout.Sections))
	for _, planned := range layout.Sections {
		s, ok := drafted[planned.ID]
		if !ok {
			s = SectionContent{ID: planned.ID}
		}
		s.Heading = coalesce(s.Heading, planned.Heading)
		s.Body = coalesce(s.Body, fmt.Sprintf("%s. %s", planned.Purpose, intent.Summary))
		aligned = append(aligned, s)
	}
	content.Sections = aligned
}
