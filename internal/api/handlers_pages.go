package api

import (
	"errors"
	"net/http"
)

var errNoForecaster = errors.New("forecasting is not configured")

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := s.indexData(r)

	run, err := s.store.LatestForecastRun(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run != nil {
		data.Palette = paletteForRun(run)
		data.Forecast = newForecastView(*run, s.loc)
		recent, err := s.store.LoadRange(r.Context(), s.reg, run.IssueDate.AddDate(0, 0, -7), run.IssueDate.AddDate(0, 0, -1))
		if err != nil {
			s.logger.Warn("api: load trend", "error", err)
		} else {
			data.Forecast.Trend = trendRows(recent.Rows, s.reg.Primary(), *run)
		}
	}
	s.render(w, http.StatusOK, data)
}

// handleForecast runs a full forecast and renders it, or the error alone.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	data := s.indexData(r)

	if s.forecaster == nil {
		data.Error = errNoForecaster.Error()
		s.render(w, http.StatusServiceUnavailable, data)
		return
	}

	res, err := s.forecaster.Run(r.Context())
	if err != nil {
		s.logger.Error("api: forecast failed", "error", err)
		data.Error = err.Error()
		s.render(w, http.StatusInternalServerError, data)
		return
	}

	data.Palette = paletteForRun(&res.Run)
	data.Forecast = newForecastView(res.Run, s.loc)
	data.Forecast.Trend = trendRows(res.Recent, s.reg.Primary(), res.Run)
	s.render(w, http.StatusOK, data)
}

func (s *Server) indexData(r *http.Request) IndexData {
	data := IndexData{Station: s.reg.Primary(), Palette: paletteForRun(nil)}
	stats, err := s.store.VerificationStats(r.Context())
	if err != nil {
		s.logger.Warn("api: verification stats", "error", err)
	}
	data.Accuracy = stats
	return data
}

func (s *Server) render(w http.ResponseWriter, status int, data IndexData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("api: template error", "error", err)
	}
}
