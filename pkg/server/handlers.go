package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/tinygarden/pkg/aggregate"
	"github.com/nicktill/tinygarden/pkg/config"
	"github.com/nicktill/tinygarden/pkg/cursor"
	"github.com/nicktill/tinygarden/pkg/eventlog"
	"github.com/nicktill/tinygarden/pkg/httpx"
	"github.com/nicktill/tinygarden/pkg/pipeline"
	"github.com/nicktill/tinygarden/pkg/server/monitor"
	"github.com/nicktill/tinygarden/pkg/sessions"
	"github.com/nicktill/tinygarden/pkg/statestore"
	"github.com/nicktill/tinygarden/pkg/timeutil"
)

var startTime = time.Now()

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Server wires the event log registry, the document store, and the live
// event hub behind the HTTP API.
type Server struct {
	registry *eventlog.Registry
	store    statestore.Store
	hub      *EventsHub
	health   *monitor.PipelineMonitor
	logger   *zap.SugaredLogger
}

// NewServer creates the API server. A nil hub disables live broadcasting.
func NewServer(registry *eventlog.Registry, store statestore.Store, hub *EventsHub, health *monitor.PipelineMonitor, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if health == nil {
		health = &monitor.PipelineMonitor{}
	}
	return &Server{
		registry: registry,
		store:    store,
		hub:      hub,
		health:   health,
		logger:   logger,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Uptime   string                 `json:"uptime"`
	Pipeline monitor.PipelineStatus `json:"pipeline"`
}

// Routes configures all HTTP routes on the router.
func (s *Server) Routes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// Event log append and queries
	api.HandleFunc("/logs/{name}", s.handleAppend).Methods("POST")
	api.HandleFunc("/logs/{name}/recent", s.handleRecent).Methods("GET")
	api.HandleFunc("/logs/{name}/range", s.handleRange).Methods("GET")
	api.HandleFunc("/logs/{name}/window", s.handleWindow).Methods("GET")
	api.HandleFunc("/logs/{name}/search", s.handleSearch).Methods("GET")
	api.HandleFunc("/logs/{name}/sample", s.handleSample).Methods("GET")

	// Derived documents
	api.HandleFunc("/stats/daily", s.handleDocument(pipeline.DailyKey, aggregate.DailyStats{})).Methods("GET")
	api.HandleFunc("/stats/hourly", s.handleDocument(pipeline.HourlyKey, aggregate.HourlyStats{})).Methods("GET")
	api.HandleFunc("/stats/sessions", s.handleDocument(pipeline.SessionsKey, sessions.ByDate{})).Methods("GET")
	api.HandleFunc("/cursor", s.handleCursor).Methods("GET")
	api.HandleFunc("/days/{date}", s.handleDayDetail).Methods("GET")

	// Operational
	api.HandleFunc("/storage", s.handleStorage).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/ws/events", s.handleWebSocket).Methods("GET")
}

// log resolves the stream from the route and reports 400 on a bad name.
func (s *Server) log(w http.ResponseWriter, r *http.Request) (*eventlog.Log, string, bool) {
	name := mux.Vars(r)["name"]
	l, err := s.registry.Get(name)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return nil, name, false
	}
	return l, name, true
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	l, name, ok := s.log(w, r)
	if !ok {
		return
	}

	var event eventlog.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid event body: %w", err))
		return
	}
	if event == nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "event body must be a JSON object")
		return
	}
	if event.String(eventlog.TimestampField) == "" {
		event[eventlog.TimestampField] = timeutil.Format(time.Now())
	}

	if err := l.Append(event); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if s.hub != nil && s.hub.HasClients() {
		if err := s.hub.Broadcast(map[string]interface{}{
			"type":   "event",
			"stream": name,
			"event":  event,
		}); err != nil {
			s.logger.Warnw("failed to broadcast event", "stream", name, "error", err)
		}
	}

	httpx.RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"status": "ok",
		"stream": name,
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.log(w, r)
	if !ok {
		return
	}

	n := queryInt(r, "n", config.QueryDefaultRecent)
	if n > config.QueryMaxRecent {
		n = config.QueryMaxRecent
	}
	offset := queryInt(r, "offset", 0)
	if n <= 0 || offset < 0 {
		httpx.RespondErrorString(w, http.StatusBadRequest, "n must be positive and offset non-negative")
		return
	}

	s.respondEvents(w, l.Recent(n, offset))
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.log(w, r)
	if !ok {
		return
	}

	start, err := timeutil.Parse(r.URL.Query().Get("start"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid start: %w", err))
		return
	}
	end, err := timeutil.Parse(r.URL.Query().Get("end"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
		return
	}

	s.respondEvents(w, l.ByTimeRange(start, end))
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.log(w, r)
	if !ok {
		return
	}

	hours := queryInt(r, "hours", 24)
	if hours <= 0 || hours > config.QueryMaxWindowHours {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("hours must be between 1 and %d", config.QueryMaxWindowHours))
		return
	}

	s.respondEvents(w, l.ByTimeWindow(hours))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.log(w, r)
	if !ok {
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "q is required")
		return
	}
	var fields []string
	if raw := r.URL.Query().Get("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}
	caseSensitive := r.URL.Query().Get("case_sensitive") == "true"

	s.respondEvents(w, l.Search(q, fields, caseSensitive))
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	l, _, ok := s.log(w, r)
	if !ok {
		return
	}

	req := eventlog.SampleRequest{
		Hours:          queryInt(r, "hours", 24),
		SamplesPerHour: 1,
		Aggregation:    eventlog.AggregationMiddle,
		ValueField:     r.URL.Query().Get("field"),
	}
	if raw := r.URL.Query().Get("per_hour"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid per_hour: %w", err))
			return
		}
		req.SamplesPerHour = v
	}
	if raw := r.URL.Query().Get("agg"); raw != "" {
		req.Aggregation = eventlog.Aggregation(raw)
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err := timeutil.Parse(raw)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid end: %w", err))
			return
		}
		req.EndTime = end
	}
	if float64(req.Hours)*req.SamplesPerHour > config.QueryMaxBuckets {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("bucket count exceeds limit of %d", config.QueryMaxBuckets))
		return
	}

	samples, err := l.TimeBucketedSample(req)
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, eventlog.ErrUnknownAggregation) && !errors.Is(err, eventlog.ErrMissingValueField) &&
			!strings.Contains(err.Error(), "must be positive") {
			status = http.StatusInternalServerError
		}
		httpx.RespondError(w, status, err)
		return
	}

	s.respondEvents(w, samples)
}

// handleDocument serves a whole derived document. The zero template keeps a
// never-written document rendering as an empty object instead of null.
func (s *Server) handleDocument(key string, zero interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := zero
		found, err := s.store.Get(r.Context(), key, &doc)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		if !found {
			httpx.RespondJSON(w, http.StatusOK, zero)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, doc)
	}
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	var c cursor.Cursor
	if _, err := s.store.Get(r.Context(), cursor.Key, &c); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, c)
}

func (s *Server) handleDayDetail(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if !datePattern.MatchString(date) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var detail pipeline.DayDetail
	found, err := s.store.Get(r.Context(), pipeline.DayDetailPref+date, &detail)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		httpx.RespondErrorString(w, http.StatusNotFound, "no detail for "+date)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pipelineStatus := s.health.Status()

	overallStatus := "healthy"
	statusCode := http.StatusOK
	if !pipelineStatus.Healthy {
		overallStatus = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, statusCode, HealthResponse{
		Status:   overallStatus,
		Version:  "1.0.0",
		Uptime:   time.Since(startTime).String(),
		Pipeline: pipelineStatus,
	})
}

// respondEvents wraps an event list so clients always get an array plus a
// count, never null.
func (s *Server) respondEvents(w http.ResponseWriter, events []eventlog.Event) {
	if events == nil {
		events = []eventlog.Event{}
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
