// Package stages implements the workers behind each generation stage. Every
// worker turns the job request plus prior stage outputs into a JSON payload
// for the next stage; the render worker turns the accumulated payloads into
// a stored artifact bundle.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/providers/llm"
)

// complete invokes the model and maps provider failures onto the pipeline's
// failure taxonomy. Permanent provider rejections must not be retried.
func complete(ctx context.Context, model llm.Completer, req llm.CompletionRequest) (string, error) {
	resp, err := model.Complete(ctx, req)
	if err != nil {
		var provErr *llm.ProviderError
		if errors.As(err, &provErr) && !provErr.Transient {
			return "", pipeline.WrapPermanent(err, provErr.Message)
		}
		return "", err
	}
	return resp.Content, nil
}

// decodeModelJSON parses a model reply into out. Replies wrapped in markdown
// fences are unwrapped first. A reply that is not JSON at all means the model
// ignored the output contract, which retrying will not fix.
func decodeModelJSON(content string, out any) error {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return pipeline.WrapPermanent(err, "model reply is not valid JSON")
	}
	return nil
}

// priorOutput decodes an earlier stage's stored payload. Missing or corrupt
// prior state cannot be repaired by retrying the current stage.
func priorOutput(req pipeline.StageRequest, stage domain.State, out any) error {
	raw, ok := req.Prior[stage]
	if !ok || len(raw) == 0 {
		return pipeline.Permanentf("missing %s output", stage)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pipeline.WrapPermanent(err, "corrupt "+string(stage)+" output")
	}
	return nil
}

func coalesce(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
