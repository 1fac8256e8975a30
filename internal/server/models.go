package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// modelListTimeout bounds the fan-out to upstream /models endpoints.
const modelListTimeout = 10 * time.Second

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleListModels aggregates models from all registered providers into an
// OpenAI-compatible list. Providers that fail to answer are skipped; their
// models simply don't appear.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), modelListTimeout)
	defer cancel()

	names := s.deps.Providers.List()
	type result struct {
		provider string
		models   []string
	}
	results := make([]result, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		p, err := s.deps.Providers.Get(name)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			models, err := p.ListModels(ctx)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelWarn, "list models failed",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				return
			}
			results[i] = result{provider: name, models: models}
		}()
	}
	wg.Wait()

	now := time.Now().Unix()
	var data []modelEntry
	seen := make(map[string]bool)
	for _, res := range results {
		for _, m := range res.models {
			if seen[m] {
				continue
			}
			seen[m] = true
			data = append(data, modelEntry{
				ID:      m,
				Object:  "model",
				Created: now,
				OwnedBy: res.provider,
			})
		}
	}
	sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

	writeJSON(w, http.StatusOK, modelListResponse{Object: "list", Data: data})
}
