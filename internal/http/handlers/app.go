package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/infra"
	"server/internal/pipeline"
)

// App carries the handler dependencies.
type App struct {
	Dispatcher *pipeline.Dispatcher
	Status     *pipeline.StatusQuery
	Logger     infra.Logger
}

func NewApp(dispatcher *pipeline.Dispatcher, status *pipeline.StatusQuery, logger infra.Logger) *App {
	return &App{Dispatcher: dispatcher, Status: status, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) success(w http.ResponseWriter, code int, data any) {
	a.json(w, code, map[string]any{"status": "success", "data": data})
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]any{"status": "error", "message": message})
}
