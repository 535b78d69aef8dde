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

// Layout plans the skeleton of the deliverable before any prose is written.
type Layout struct {
	Kind     string    `json:"kind"`
	Sections []Section `json:"sections"`
}

// Section is one unit of the layout: a slide for presentations, a heading
// for documents, a sheet for spreadsheets.
type Section struct {
	ID      string `json:"id"`
	Heading string `json:"heading"`
	Purpose string `json:"purpose"`
}

const layoutSystem = `You plan the structure of a deliverable from its intent.
Reply with a JSON object: {"sections":[{"id","heading","purpose"}]}.
Use 3 to 8 sections. Reply with JSON only.`

// LayoutWorker turns the intent into an ordered section plan shaped by the
// requested output type.
type LayoutWorker struct {
	Model llm.Completer
}

func (w *LayoutWorker) Run(ctx context.Context, req pipeline.StageRequest) (json.RawMessage, error) {
	var intent Intent
	if err := priorOutput(req, domain.StateProcessingIntent, &intent); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Deliverable: %s titled %q\n", sectionKind(req.OutputType), intent.Title)
	fmt.Fprintf(&b, "Summary: %s\n", intent.Summary)
	fmt.Fprintf(&b, "Tone: %s, audience: %s\n", intent.Tone, intent.Audience)
	for _, obj := range intent.Objectives {
		fmt.Fprintf(&b, "Objective: %s\n", obj)
	}

	content, err := complete(ctx, w.Model, llm.CompletionRequest{
		System:      layoutSystem,
		Prompt:      b.String(),
		Temperature: 0.4,
		MaxTokens:   2048,
		JSONOutput:  true,
	})
	if err != nil {
		return nil, err
	}

	var layout Layout
	if err := decodeModelJSON(content, &layout); err != nil {
		return nil, err
	}
	layout.Kind = sectionKind(req.OutputType)
	if len(layout.Sections) == 0 {
		layout.Sections = defaultSections(req.OutputType, intent)
	}
	for i := range layout.Sections {
		if layout.Sections[i].ID == "" {
			layout.Sections[i].ID = fmt.Sprintf("s%02d", i+1)
		}
		layout.Sections[i].Heading = coalesce(layout.Sections[i].Heading, fmt.Sprintf("Part %d", i+1))
	}

	return json.Marshal(layout)
}

func sectionKind(outputType domain.OutputType) string {
	switch outputType {
	case domain.OutputPresentation:
		return "slide"
	case domain.OutputSpreadsheet:
		return "sheet"
	default:
		return "section"
	}
}

func defaultSections(outputType domain.OutputType, intent Intent) []Section {
	switch outputType {
	case domain.OutputPresentation:
		return []Section{
			{ID: "s01", Heading: intent.Title, Purpose: "title slide"},
			{ID: "s02", Heading: "Overview", Purpose: "frame the topic"},
			{ID: "s03", Heading: "Key Points", Purpose: "core objectives"},
			{ID: "s04", Heading: "Next Steps", Purpose: "closing actions"},
		}
	case domain.OutputSpreadsheet:
		return []Section{
			{ID: "s01", Heading: "Summary", Purpose: "headline figures"},
			{ID: "s02", Heading: "Data", Purpose: "detail rows"},
			{ID: "s03", Heading: "Notes", Purpose: "assumptions"},
		}
	default:
		return []Section{
			{ID: "s01", Heading: "Introduction", Purpose: "frame the topic"},
			{ID: "s02", Heading: "Body", Purpose: "develop the objectives"},
			{ID: "s03", Heading: "Conclusion", Purpose: "summarize and close"},
		}
	}
}
