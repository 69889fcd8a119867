package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 3660
	// staleAfterDays is how old the latest stored day may get before /health
	// reports degraded. The daily job appends yesterday each morning.
	staleAfterDays = 2
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleAPILatestForecast(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestForecastRun(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "no forecast runs", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newForecastJSON(*run))
}

func (s *Server) handleAPIStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.GetActiveStations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]StationJSON, 0, len(stations))
	for _, st := range stations {
		out = append(out, StationJSON{
			Name:    st.Name,
			PrecNo:  st.PrecNo,
			BlockNo: st.BlockNo,
			Primary: st.Name == s.reg.Primary(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryDays {
			http.Error(w, "days must be between 1 and "+strconv.Itoa(maxHistoryDays), http.StatusBadRequest)
			return
		}
		days = n
	}

	end := models.DateOnly(s.clock.Now().In(s.loc))
	start := end.AddDate(0, 0, -days)
	tbl, err := s.store.LoadRange(r.Context(), s.reg, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rows := make([]HistoryRow, 0, tbl.Len())
	for _, snap := range tbl.Rows {
		row := HistoryRow{Date: snap.Date.Format(models.DateLayout), Values: make(map[string]*float64)}
		for name, obs := range snap.Stations {
			for _, f := range s.reg.Fields() {
				row.Values[registry.Column(name, f)] = finite(obs.Value(f))
			}
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAPIAccuracy(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.VerificationStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]AccuracyJSON, 0, len(stats))
	for _, st := range stats {
		a := AccuracyJSON{LeadDay: st.LeadDay, Count: st.Count}
		if st.AvgMaxBias.Valid {
			a.AvgMaxBias = finite(st.AvgMaxBias.Float64)
		}
		if st.AvgMinBias.Valid {
			a.AvgMinBias = finite(st.AvgMinBias.Float64)
		}
		if st.MAEMax.Valid {
			a.MAEMax = finite(st.MAEMax.Float64)
		}
		if st.MAEMin.Valid {
			a.MAEMin = finite(st.MAEMin.Float64)
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthStatus{Status: "error", Errors: []string{err.Error()}})
		return
	}

	health := HealthStatus{Status: "ok", AgeDays: -1}

	if v, err := s.store.MigrationVersion(); err != nil {
		health.Errors = append(health.Errors, "schema version: "+err.Error())
	} else {
		health.SchemaVersion = v
	}

	latest, ok, err := s.store.LatestDate(ctx)
	switch {
	case err != nil:
		health.Errors = append(health.Errors, "latest date: "+err.Error())
	case !ok:
		health.Status = "degraded"
	default:
		today := models.DateOnly(s.clock.Now().In(s.loc))
		health.LatestDate = latest.Format(models.DateLayout)
		health.AgeDays = int(today.Sub(latest).Hours() / 24)
		if health.AgeDays > staleAfterDays {
			health.Status = "degraded"
		}
	}

	ingest, err := s.store.GetIngestHealth(ctx, 1)
	if err != nil {
		health.Errors = append(health.Errors, "ingest health: "+err.Error())
	}
	health.Ingest = ingest

	failed, err := s.store.GetRecentIngestErrors(ctx, 5)
	if err != nil {
		health.Errors = append(health.Errors, "ingest errors: "+err.Error())
	}
	for _, run := range failed {
		health.RecentErrors = append(health.RecentErrors, run.StartedAt.Format("2006-01-02 15:04")+" "+run.ErrorMessage.String)
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
