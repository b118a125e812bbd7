package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/jnbntc/sensor-app/db"
	"github.com/jnbntc/sensor-app/internal/model"
	"github.com/jnbntc/sensor-app/internal/relay"
	"github.com/jnbntc/sensor-app/internal/sensor"
)

// Store is the read side of the reading and relay logs.
type Store interface {
	Readings(ctx context.Context, limit int) ([]model.Reading, error)
	RelayEvents(ctx context.Context, limit int) ([]model.RelayEvent, error)
}

// Relays is the part of the relay controller the API drives.
type Relays interface {
	SetManual(ctx context.Context, id model.RelayID, on bool) error
	Status(id model.RelayID) (bool, error)
}

type Server struct {
	store     Store
	source    sensor.Source
	relays    Relays
	metrics   http.Handler
	staticDir string
	now       func() time.Time

	middleware []mux.MiddlewareFunc

	httpServer *http.Server
}

type ReadingResponse struct {
	ID          int64   `json:"id,omitempty"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
}

type RelayControlRequest struct {
	Relay *int  `json:"relay"`
	State *bool `json:"state"`
}

type RelayControlResponse struct {
	Relay   int    `json:"relay"`
	State   string `json:"state"`
	Success bool   `json:"success"`
}

type RelayStatusResponse struct {
	Relay1 string `json:"relay1"`
	Relay2 string `json:"relay2"`
}

type RelayLogResponse struct {
	ID          int64  `json:"id"`
	RelayNumber int    `json:"relay_number"`
	State       string `json:"state"`
	Timestamp   string `json:"timestamp"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the API. metrics may be nil to disable /metrics.
func NewServer(store Store, source sensor.Source, relays Relays, metrics http.Handler, staticDir string) *Server {
	return &Server{
		store:     store,
		source:    source,
		relays:    relays,
		metrics:   metrics,
		staticDir: staticDir,
		now:       time.Now,
	}
}

// Use adds middleware run on every matched route.
func (s *Server) Use(mw ...mux.MiddlewareFunc) {
	s.middleware = append(s.middleware, mw...)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.middleware...)

	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.PathPrefix("/static/").
		Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir)))).
		Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/current", s.getCurrent).Methods(http.MethodGet)
	api.HandleFunc("/history", s.getHistory).Methods(http.MethodGet)
	api.HandleFunc("/relay/control", s.controlRelay).Methods(http.MethodPost)
	api.HandleFunc("/relay/status", s.getRelayStatus).Methods(http.MethodGet)
	api.HandleFunc("/relay/logs", s.getRelayLogs).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found")
	})
	for _, router := range []*mux.Router{r, api} {
		router.MethodNotAllowedHandler = methodNotAllowed
		router.NotFoundHandler = notFound
	}

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(r)
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// returned after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpLog := log.With().Str("component", "http").Logger()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(httpLog, s.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("address", addr).Msg("Starting REST API server")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.staticDir, "index.html")
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, http.StatusNotFound, "index.html not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) getCurrent(w http.ResponseWriter, r *http.Request) {
	env, err := s.source.Read(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Sensor read for current reading failed")
		s.writeError(w, http.StatusInternalServerError, "Failed to read sensor")
		return
	}

	reading := model.NewReading(env, s.now())
	s.writeJSON(w, http.StatusOK, readingResponse(reading))
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	readings, err := s.store.Readings(r.Context(), db.HistoryLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load reading history")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]ReadingResponse, 0, len(readings))
	for _, reading := range readings {
		response = append(response, readingResponse(reading))
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) controlRelay(w http.ResponseWriter, r *http.Request) {
	var req RelayControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Relay == nil || req.State == nil {
		s.writeError(w, http.StatusBadRequest, "Invalid parameters")
		return
	}
	id := model.RelayID(*req.Relay)
	if !id.Valid() {
		s.writeError(w, http.StatusBadRequest, "Invalid relay. Must be 1 or 2")
		return
	}

	if err := s.relays.SetManual(r.Context(), id, *req.State); err != nil {
		log.Error().Err(err).Int("relay", *req.Relay).Bool("state", *req.State).Msg("Failed to set relay via API")
		if errors.Is(err, relay.ErrUnknownRelay) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to toggle relay")
		return
	}

	log.Info().Int("relay", *req.Relay).Bool("state", *req.State).Msg("Relay set via API")
	s.writeJSON(w, http.StatusOK, RelayControlResponse{
		Relay:   *req.Relay,
		State:   model.StateString(*req.State),
		Success: true,
	})
}

func (s *Server) getRelayStatus(w http.ResponseWriter, r *http.Request) {
	relay1, err := s.relays.Status(model.Relay1)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	relay2, err := s.relays.Status(model.Relay2)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, RelayStatusResponse{
		Relay1: model.StateString(relay1),
		Relay2: model.StateString(relay2),
	})
}

func (s *Server) getRelayLogs(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.RelayEvents(r.Context(), db.RelayLogsLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load relay logs")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]RelayLogResponse, 0, len(events))
	for _, ev := range events {
		response = append(response, RelayLogResponse{
			ID:          ev.ID,
			RelayNumber: int(ev.Relay),
			State:       model.StateString(ev.On),
			Timestamp:   model.FormatTimestamp(ev.Timestamp),
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func readingResponse(r model.Reading) ReadingResponse {
	return ReadingResponse{
		ID:          r.ID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Timestamp:   model.FormatTimestamp(r.Timestamp),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
