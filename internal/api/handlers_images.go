package api

import (
	"net/http"
	"strconv"

	"github.com/lox/tenki/internal/imagegen"
)

// handleForecastImage serves the latest forecast as a PNG card, rendering it
// once per run.
func (s *Server) handleForecastImage(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestForecastRun(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "no forecast runs", http.StatusNotFound)
		return
	}

	key := strconv.FormatInt(run.ID, 10)
	data, ok := s.cards.Get(key)
	if !ok {
		data, err = imagegen.RenderCard(imagegen.NewCardData(predictionOf(run)))
		if err != nil {
			s.logger.Error("api: render card", "run_id", run.ID, "error", err)
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		s.cards.Set(key, data)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=600")
	w.Write(data)
}
