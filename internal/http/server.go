package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"glucolink/internal/config"
	"glucolink/internal/metrics"
	"glucolink/internal/service/glucostats"
	"glucolink/internal/service/poller"
	storepkg "glucolink/internal/store"
)

const (
	minWindowHours = 1
	maxWindowHours = 168
)

// FetchTrigger is the poller surface the manual-refresh endpoint drives.
type FetchTrigger interface {
	RunOnce(ctx context.Context) poller.Summary
}

type Server struct {
	cfg     config.Config
	store   storepkg.Store
	trigger FetchTrigger
}

func NewServer(cfg config.Config, store storepkg.Store, trigger FetchTrigger) *Server {
	return &Server{cfg: cfg, store: store, trigger: trigger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/admin/login", s.handleAdminLogin)

	r.Route("/api/entries", func(api chi.Router) {
		api.Get("/", s.handleListEntries)
		api.Get("/latest", s.handleLatest)
		api.Get("/stats", s.handleStats)
	})

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Post("/api/entries/refresh", s.handleRefresh)
		protected.Get("/api/events", s.handleListEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.Latest()
	if err != nil {
		if errors.Is(err, storepkg.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"reading": nil,
				"success": false,
				"message": "no glucose readings stored yet",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reading":          latest,
		"time_ago_seconds": int(time.Since(latest.CapturedAt).Seconds()),
		"success":          true,
	})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	hours := parseHours(r.URL.Query().Get("hours"))
	entries, err := s.store.ReadingsSince(time.Now().UTC().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"hours":   hours,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := parseHours(r.URL.Query().Get("hours"))
	entries, err := s.store.ReadingsSince(time.Now().UTC().Add(-time.Duration(hours) * time.Hour))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats": glucostats.Compute(entries),
		"hours": hours,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// The cycle runs detached from the request: refreshes can take two
	// logins plus two data calls and the caller only needs an ack.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		summary := s.trigger.RunOnce(ctx)
		if !summary.Success {
			log.Warn().Str("error", summary.Error).Msg("manual refresh failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "refresh scheduled",
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	events := s.store.ListEvents(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseHours(raw string) int {
	hours := parseInt(raw, 24)
	if hours < minWindowHours {
		hours = minWindowHours
	}
	if hours > maxWindowHours {
		hours = maxWindowHours
	}
	return hours
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
