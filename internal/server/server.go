// Package server exposes health, metrics and the admin surface over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/feedwatch/feedwatch/internal/keywords"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/monitoring"
	"github.com/feedwatch/feedwatch/internal/scheduler"
	"github.com/feedwatch/feedwatch/internal/targets"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server routes admin requests to the configuration store, the scheduler and the monitor.
type Server struct {
	targets   *targets.Store
	scheduler *scheduler.Service
	monitor   *monitoring.Service
	gatherer  prometheus.Gatherer

	// restartMu serializes loop restarts so concurrent edits cannot interleave Stop and Start.
	restartMu sync.Mutex
}

// New creates the admin server.
func New(store *targets.Store, sched *scheduler.Service, monitor *monitoring.Service, gatherer prometheus.Gatherer) *Server {
	return &Server{targets: store, scheduler: sched, monitor: monitor, gatherer: gatherer}
}

// Router builds the mux router with every endpoint registered.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	// Health check endpoint
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Metrics endpoint
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	router.HandleFunc("/targets", s.listTargets).Methods("GET")
	router.HandleFunc("/targets/{id}/status", s.targetStatus).Methods("GET")
	router.HandleFunc("/targets/{id}/check", s.checkNow).Methods("POST")
	router.HandleFunc("/targets/{id}/interval", s.setInterval).Methods("PUT")
	router.HandleFunc("/targets/{id}/enable", s.setEnabled(true)).Methods("POST")
	router.HandleFunc("/targets/{id}/disable", s.setEnabled(false)).Methods("POST")
	router.HandleFunc("/targets/{id}/seen", s.resetSeen).Methods("DELETE")

	src := router.PathPrefix("/targets/{id}/sources/{source}").Subrouter()
	src.HandleFunc("/threshold", s.setThreshold).Methods("PUT")
	src.HandleFunc("/max-history", s.setMaxHistory).Methods("PUT")
	src.HandleFunc("/keywords/{category}", s.listKeywords).Methods("GET")
	src.HandleFunc("/keywords/{category}", s.addKeyword).Methods("POST")
	src.HandleFunc("/keywords/{category}", s.removeKeyword).Methods("DELETE")
	src.HandleFunc("/score", s.score).Methods("POST")

	return router
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type targetView struct {
	Target models.Target       `json:"target"`
	Status models.TargetStatus `json:"status"`
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	list, err := s.targets.List()
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]targetView, 0, len(list))
	for _, t := range list {
		views = append(views, targetView{Target: t, Status: s.status(t)})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) targetStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.targets.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	st := s.status(t)
	stats, err := s.monitor.SeenStats(t)
	if err != nil {
		writeError(w, err)
		return
	}
	st.Sources = stats
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) status(t models.Target) models.TargetStatus {
	st, ok := s.scheduler.Status(t.ID)
	if !ok {
		st = models.TargetStatus{TargetID: t.ID, State: models.StateIdle, Interval: t.Interval.String()}
	}
	return st
}

func (s *Server) checkNow(w http.ResponseWriter, r *http.Request) {
	summary, err := s.scheduler.TriggerNow(r.Context(), mux.Vars(r)["id"])
	if summary != nil || err == nil {
		// A failing source still produces a summary; its error is reported per source.
		writeJSON(w, http.StatusOK, summary)
		return
	}
	writeError(w, err)
}

func (s *Server) setInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.respondEdit(w, func() (models.Target, error) {
		return s.targets.SetInterval(mux.Vars(r)["id"], time.Duration(req.Seconds)*time.Second)
	})
}

func (s *Server) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondEdit(w, func() (models.Target, error) {
			return s.targets.SetEnabled(mux.Vars(r)["id"], enabled)
		})
	}
}

func (s *Server) setThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold float64 `json:"threshold"`
	}
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	s.respondEdit(w, func() (models.Target, error) {
		return s.targets.SetThreshold(vars["id"], vars["source"], req.Threshold)
	})
}

func (s *Server) setMaxHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Max int `json:"max"`
	}
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	s.respondEdit(w, func() (models.Target, error) {
		return s.targets.SetMaxHistory(vars["id"], vars["source"], req.Max)
	})
}

func (s *Server) listKeywords(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	category, err := keywords.ParseCategory(vars["category"])
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.targets.Profile(vars["id"], vars["source"])
	if err != nil {
		writeError(w, err)
		return
	}

	list := *profile.List(category)
	if list == nil {
		list = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"category":  category,
		"keywords":  list,
		"threshold": profile.Threshold,
	})
}

type keywordRequest struct {
	Keyword string `json:"keyword"`
}

func (s *Server) addKeyword(w http.ResponseWriter, r *http.Request) {
	var req keywordRequest
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	s.respondEdit(w, func() (models.Target, error) {
		return s.targets.AddKeyword(vars["id"], vars["source"], vars["category"], req.Keyword)
	})
}

func (s *Server) removeKeyword(w http.ResponseWriter, r *http.Request) {
	var req keywordRequest
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	s.respondEdit(w, func() (models.Target, error) {
		return s.targets.RemoveKeyword(vars["id"], vars["source"], vars["category"], req.Keyword)
	})
}

// respondEdit persists an admin edit and restarts the target's loop with the new configuration.
func (s *Server) respondEdit(w http.ResponseWriter, edit func() (models.Target, error)) {
	t, err := edit()
	if err != nil {
		writeError(w, err)
		return
	}
	s.restart(t.ID)
	writeJSON(w, http.StatusOK, t)
}

// restart moves the target's loop onto its newest stored configuration.
func (s *Server) restart(id string) {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()

	log := logrus.WithField("target", id)
	t, err := s.targets.Get(id)
	if err != nil {
		log.WithError(err).Error("Failed to reload target for restart")
		return
	}

	if err := s.scheduler.Stop(id); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		log.WithError(err).Warn("Failed to stop target")
	}
	if !t.Enabled {
		return
	}

	err = s.scheduler.Start(t)
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		// Started elsewhere (a file reload) in the meantime.
		err = s.scheduler.Update(t)
	}
	if err != nil {
		log.WithError(err).Error("Failed to restart target")
	}
}

func (s *Server) resetSeen(w http.ResponseWriter, r *http.Request) {
	t, err := s.targets.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	sourceID := r.URL.Query().Get("source")
	if sourceID != "" {
		if _, ok := t.Source(sourceID); !ok {
			writeError(w, targets.ErrNotFound)
			return
		}
	}
	if err := s.monitor.ResetSeen(t, sourceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type scoreResponse struct {
	Accepted  bool                                `json:"accepted"`
	Immediate bool                                `json:"immediate"`
	Value     *float64                            `json:"value,omitempty"`
	Threshold float64                             `json:"threshold"`
	Matches   map[models.KeywordCategory][]string `json:"matches,omitempty"`
}

// score runs the classifier of one source against arbitrary text without touching any state.
func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title"`
		Body   string `json:"body"`
		Author string `json:"author"`
	}
	if !decode(w, r, &req) {
		return
	}

	vars := mux.Vars(r)
	t, err := s.targets.Get(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	src, ok := t.Source(vars["source"])
	if !ok {
		writeError(w, targets.ErrNotFound)
		return
	}

	item := models.Item{Title: req.Title, Body: req.Body, Author: req.Author}
	verdict := s.monitor.Dispatcher().Classify(*src, item)
	resp := scoreResponse{Accepted: verdict.Accepted, Immediate: verdict.Immediate}

	if src.Mode == models.ModeScored && src.Profile != nil {
		res := keywords.Score(req.Title, req.Body, *src.Profile)
		resp.Threshold = src.Profile.Threshold
		resp.Matches = res.Matches
		if !res.Immediate {
			// JSON cannot carry +Inf, so the value is omitted on the immediate path.
			resp.Value = &res.Value
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var terr *targets.ConfigurationError
	var kerr *keywords.ConfigurationError
	switch {
	case errors.As(err, &terr), errors.As(err, &kerr):
		status = http.StatusBadRequest
	case errors.Is(err, targets.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrNotRunning):
		status = http.StatusConflict
	default:
		logrus.WithError(err).Error("Admin request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}
