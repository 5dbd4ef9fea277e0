package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/export"
	"github.com/JakeFAU/listing-harvester/internal/seeds"
)

type startRequest struct {
	URLs     []string        `json:"urls"`
	Settings json.RawMessage `json:"settings"`
}

type seedRequest struct {
	URL string `json:"url"`
}

type exportRequest struct {
	Format string `json:"format"`
}

type relayTestRequest struct {
	SampleURL string `json:"sampleUrl"`
}

func (s *Server) startScraping(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, "No URLs provided")
		return
	}
	if s.deps.Seeds != nil {
		for _, u := range urls {
			if err := s.deps.Seeds.Validate(u); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}
	settings, err := s.settingsFrom(req.Settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.deps.Runner.Begin(r.Context(), urls, settings)
	if err != nil {
		if errors.Is(err, crawler.ErrConcurrencyConflict) {
			writeError(w, http.StatusConflict, "a scraping job is already running")
			return
		}
		s.logger.Error("begin job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start scraping")
		return
	}
	s.deps.Journal.Info(r.Context(), job.ID, fmt.Sprintf("Starting scraping job with %d URLs", len(urls)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Runner.Run(s.baseCtx, job.ID, urls, settings); err != nil {
			s.logger.Error("job run failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":   job.ID,
		"job":     job,
		"message": "Scraping started successfully",
	})
}

// settingsFrom overlays the request's settings on the configured defaults.
func (s *Server) settingsFrom(raw json.RawMessage) (crawler.Settings, error) {
	settings := s.cfg.DefaultSettings()
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &settings); err != nil {
			return crawler.Settings{}, fmt.Errorf("invalid settings: %w", err)
		}
	}
	switch {
	case settings.MinRating < 0 || settings.MinRating > 5:
		return crawler.Settings{}, errors.New("minRating must be within [0,5]")
	case settings.DelayMs < 0:
		return crawler.Settings{}, errors.New("delay must be >= 0")
	case settings.ReviewLimit < 0:
		return crawler.Settings{}, errors.New("reviewLimit must be >= 0")
	}
	if settings.RetryAttempts <= 0 {
		settings.RetryAttempts = 1
	}
	return settings, nil
}

func (s *Server) stopScraping(w http.ResponseWriter, r *http.Request) {
	jobID, _ := s.deps.Runner.Active()
	stopping := s.deps.Runner.RequestStop()
	if stopping {
		s.deps.Journal.Warning(r.Context(), jobID, "Scraping stopped by user")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Scraping stopped",
		"stopping": stopping,
	})
}

func (s *Server) currentJob(w http.ResponseWriter, r *http.Request) {
	job, found, err := s.deps.Repository.GetActiveJob(r.Context())
	if err != nil {
		s.storeError(w, err, "failed to fetch current job")
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Repository.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.deps.Repository.ListCompanies(r.Context())
	if err != nil {
		s.storeError(w, err, "failed to fetch companies")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(companies))
}

func (s *Server) clearCompanies(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Repository.ClearCompanies(r.Context()); err != nil {
		s.storeError(w, err, "failed to clear companies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		jobID = strings.TrimSpace(r.URL.Query().Get("job_id"))
	}
	entries, err := s.deps.Repository.ListLogs(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err, "failed to fetch logs")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Repository.ClearLogs(r.Context()); err != nil {
		s.storeError(w, err, "failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) listSeeds(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Seeds.List(r.Context())
	if err != nil {
		s.storeError(w, err, "failed to fetch URLs")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) addSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	seed, err := s.deps.Seeds.Add(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, seeds.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.storeError(w, err, "failed to add URL")
		return
	}
	writeJSON(w, http.StatusCreated, seed)
}

func (s *Server) removeSeed(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Seeds.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.storeError(w, err, "failed to remove URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) clearSeeds(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Seeds.Clear(r.Context()); err != nil {
		s.storeError(w, err, "failed to clear URLs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Format == "" {
		req.Format = string(export.FormatCSV)
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	companies, err := s.deps.Repository.ListCompanies(r.Context())
	if err != nil {
		s.storeError(w, err, "failed to export data")
		return
	}
	result, err := export.Render(companies, format, s.deps.Clock.Now())
	if err != nil {
		if errors.Is(err, export.ErrNoData) {
			writeError(w, http.StatusBadRequest, "No data to export")
			return
		}
		s.logger.Error("export failed", zap.String("format", string(format)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export data")
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		s.logger.Warn("write export failed", zap.Error(err))
	}
}

func (s *Server) testRelays(w http.ResponseWriter, r *http.Request) {
	if s.deps.Relays == nil {
		writeError(w, http.StatusServiceUnavailable, "relays not configured")
		return
	}
	var req relayTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sample := strings.TrimSpace(req.SampleURL)
	if sample == "" {
		sample = s.cfg.Relays.SampleURL
	}
	writeJSON(w, http.StatusOK, s.deps.Relays.TestEndpoints(r.Context(), sample))
}

// storeError maps repository sentinels to status codes.
func (s *Server) storeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, crawler.ErrJobNotFound), errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, crawler.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	default:
		s.logger.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
