// Package api exposes the live session state over HTTP: standings, pace
// forecasts, degradation, pit windows and threat assessments, all as JSON.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/racecraft/internal/race"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	session *race.Session
}

func NewServer(session *race.Session) *Server {
	return &Server{session: session}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/standings", s.showStandings)
	mux.HandleFunc("/api/battles", s.showBattles)
	mux.HandleFunc("/api/projection", s.showProjection)
	mux.HandleFunc("/api/forecast", s.showForecast)
	mux.HandleFunc("/api/degradation", s.showDegradation)
	mux.HandleFunc("/api/pitwindow", s.showPitWindow)
	mux.HandleFunc("/api/threat", s.showThreat)
	mux.HandleFunc("/api/laps", s.listLaps)
	mux.HandleFunc("/api/corners", s.showCorners)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/pit", s.pitSignalHandler)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// vehicleParam resolves the named query parameter through the session roster.
func (s *Server) vehicleParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id := r.URL.Query().Get(name)
	if id == "" {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Missing '%s' parameter", name))
		return 0, false
	}
	ix, err := s.session.Roster().Resolve(id)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return 0, false
	}
	return ix, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("Invalid '%s' parameter", name)
	}
	return v, nil
}

// requireGet rejects non-GET methods and sets the JSON content type.
func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (s *Server) encode(w http.ResponseWriter, v interface{}, what string) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write "+what)
	}
}

func (s *Server) showStandings(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.encode(w, s.session.Leaderboard(), "standings")
}

func (s *Server) showBattles(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.encode(w, s.session.BattleGroups(), "battle groups")
}

func (s *Server) showProjection(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	horizon, err := intParam(r, "laps", 5)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.encode(w, s.session.ProjectPositions(horizon), "projection")
}

func (s *Server) showForecast(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	vehicle, ok := s.vehicleParam(w, r, "vehicle")
	if !ok {
		return
	}
	horizon, err := intParam(r, "horizon", 3)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	fc, err := s.session.PaceForecast(vehicle, horizon)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to forecast pace: %v", err))
		return
	}
	s.encode(w, fc, "forecast")
}

func (s *Server) showDegradation(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	vehicle, ok := s.vehicleParam(w, r, "vehicle")
	if !ok {
		return
	}
	rep, err := s.session.Degradation(vehicle)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to analyze degradation: %v", err))
		return
	}
	s.encode(w, rep, "degradation report")
}

func (s *Server) showPitWindow(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	vehicle, ok := s.vehicleParam(w, r, "vehicle")
	if !ok {
		return
	}
	rec, err := s.session.PitWindow(vehicle)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to plan pit window: %v", err))
		return
	}
	s.encode(w, rec, "pit window")
}

func (s *Server) showThreat(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	vehicle, ok := s.vehicleParam(w, r, "vehicle")
	if !ok {
		return
	}
	rival, ok := s.vehicleParam(w, r, "rival")
	if !ok {
		return
	}
	ta, err := s.session.Threat(vehicle, rival)
	if err != nil {
		s.writeJSONError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to assess threat: %v", err))
		return
	}
	s.encode(w, ta, "threat assessment")
}

func (s *Server) listLaps(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	vehicle, ok := s.vehicleParam(w, r, "vehicle")
	if !ok {
		return
	}
	s.encode(w, s.session.History(vehicle), "laps")
}

func (s *Server) showCorners(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.encode(w, s.session.Corners(), "corners")
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	config := map[string]interface{}{
		"session":    s.session.ID,
		"started_at": s.session.StartedAt(),
		"track":      s.session.Profile.ID,
		"track_m":    s.session.Profile.LengthM,
		"vehicles":   s.session.Roster().IDs(),
	}
	s.encode(w, config, "config")
}

func (s *Server) pitSignalHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	vehicle := r.FormValue("vehicle")
	if err := s.session.PitSignal(vehicle); err != nil {
		http.Error(w, "Failed to record pit signal", http.StatusNotFound)
		return
	}
	io.WriteString(w, "Pit signal recorded")
}
