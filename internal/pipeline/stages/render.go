package stages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/storage"
	"server/pkg/zip"
)

// RenderResult is the render stage's output. ResultRef is the stable
// reference the status API returns once the job completes.
type RenderResult struct {
	ResultRef string `json:"result_ref"`
	Bytes     int    `json:"bytes"`
	Sections  int    `json:"sections"`
}

type renderManifest struct {
	JobID      string    `json:"job_id"`
	OutputType string    `json:"output_type"`
	Title      string    `json:"title"`
	Locale     string    `json:"locale"`
	Sections   int       `json:"sections"`
	RenderedAt time.Time `json:"rendered_at"`
}

// RenderWorker assembles the accumulated stage outputs into an artifact
// bundle and persists it. It calls no model; its failures are storage
// failures and therefore transient.
type RenderWorker struct {
	Store storage.ArtifactStore
	Now   func() time.Time
}

func (w *RenderWorker) Run(ctx context.Context, req pipeline.StageRequest) (json.RawMessage, error) {
	var intent Intent
	if err := priorOutput(req, domain.StateProcessingIntent, &intent); err != nil {
		return nil, err
	}
	var content Content
	if err := priorOutput(req, domain.StateProcessingContent, &content); err != nil {
		return nil, err
	}
	var critique Critique
	if err := priorOutput(req, domain.StateCritiquing, &critique); err != nil {
		return nil, err
	}

	applyRevisions(&content, critique)

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	manifest := renderManifest{
		JobID:      req.JobID,
		OutputType: string(req.OutputType),
		Title:      intent.Title,
		Locale:     intent.Locale,
		Sections:   len(content.Sections),
		RenderedAt: now().UTC(),
	}

	assets := []zip.Asset{
		{Filename: "manifest.json", MIME: "application/json", Data: marshalAsset(manifest)},
		{Filename: "intent.json", MIME: "application/json", Data: rawAsset(req, domain.StateProcessingIntent)},
		{Filename: "layout.json", MIME: "application/json", Data: rawAsset(req, domain.StateProcessingLayout)},
		{Filename: "content.json", MIME: "application/json", Data: marshalAsset(content)},
		{Filename: "critique.json", MIME: "application/json", Data: rawAsset(req, domain.StateCritiquing)},
		{Filename: bodyFilename(req.OutputType), MIME: "text/markdown", Data: []byte(renderBody(intent, content))},
	}
	bundle := zip.ArchiveAssets(assets)
	if len(bundle) == 0 {
		return nil, pipeline.Permanentf("empty artifact bundle")
	}

	key := artifactKey(req.JobID, req.OutputType)
	ref, err := w.Store.Put(ctx, key, bundle)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pipeline.Transientf("store artifact: %v", err)
	}

	return json.Marshal(RenderResult{
		ResultRef: ref,
		Bytes:     len(bundle),
		Sections:  len(content.Sections),
	})
}

// applyRevisions folds the reviewer's section rewrites into the final copy.
func applyRevisions(content *Content, critique Critique) {
	if len(critique.Revisions) == 0 {
		return
	}
	for i, s := range content.Sections {
		if body, ok := critique.Revisions[s.ID]; ok && strings.TrimSpace(body) != "" {
			content.Sections[i].Body = body
		}
	}
}

func renderBody(intent Intent, content Content) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", intent.Title)
	for _, s := range content.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Heading, s.Body)
	}
	return b.String()
}

func bodyFilename(outputType domain.OutputType) string {
	switch outputType {
	case domain.OutputPresentation:
		return "slides.md"
	case domain.OutputSpreadsheet:
		return "sheets.md"
	default:
		return "document.md"
	}
}

// artifactKey derives a deterministic storage key, so a retried render
// overwrites its own partial artifact instead of leaking a duplicate.
func artifactKey(jobID string, outputType domain.OutputType) string {
	sum := sha256.Sum256([]byte(jobID))
	return fmt.Sprintf("artifacts/%s/%s.zip", outputType, hex.EncodeToString(sum[:])[:20])
}

func marshalAsset(v any) []byte {
	data, _ := json.MarshalIndent(v, "", "  ")
	return data
}

func rawAsset(req pipeline.StageRequest, stage domain.State) []byte {
	if raw, ok := req.Prior[stage]; ok {
		return raw
	}
	return []byte("{}")
}
