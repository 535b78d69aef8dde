package stages

import (
	"server/internal/domain"
	"server/internal/pipeline"
	"server/internal/providers/llm"
	"server/internal/storage"
)

// NewRegistry wires the full stage set against one model provider and one
// artifact store.
func NewRegistry(model llm.Completer, store storage.ArtifactStore) pipeline.Registry {
	return pipeline.Registry{
		domain.StateProcessingIntent:  &IntentWorker{Model: model},
		domain.StateProcessingLayout:  &LayoutWorker{Model: model},
		domain.StateProcessingContent: &ContentWorker{Model: model},
		domain.StateCritiquing:        &CritiqueWorker{Model: model},
		domain.StateRendering:         &RenderWorker{Store: store},
	}
}
