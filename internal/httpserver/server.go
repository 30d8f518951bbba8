// Package httpserver exposes the webhook entry point and the read API.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harborline/deployd/internal/config"
	"github.com/harborline/deployd/internal/ledger"
	"github.com/harborline/deployd/internal/service"
	"github.com/harborline/deployd/internal/webhook"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxBodyBytes    = 10 << 20
)

// appNameRe bounds app names to what is safe in storage keys, host patterns,
// and provider resource names.
var appNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

type Server struct {
	cfg     config.Config
	service *service.Service
	store   ledger.Store
}

func New(cfg config.Config, svc *service.Service, store ledger.Store) *Server {
	return &Server{cfg: cfg, service: svc, store: store}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/health", s.handleHealth)

	r.Post("/hooks/{app_name}", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.readAuth)
		r.Get("/apps/{app_name}/deployment", s.handleGetDeployment)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleWebhook is the deployment entry point. Order matters: the signature
// check runs on the exact raw body before any parsing, and classification
// runs before any side effect is attempted.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	if !webhook.VerifySignature(body, r.Header.Get(signatureHeader), s.cfg.WebhookSecret) {
		respondError(w, http.StatusUnauthorized, "unauthorized webhook")
		return
	}

	appName := chi.URLParam(r, "app_name")
	if !appNameRe.MatchString(appName) {
		respondError(w, http.StatusBadRequest, "invalid app name")
		return
	}

	ev, err := webhook.ClassifyPush(body, appName)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	result, err := s.service.Deploy(r.Context(), ev)
	if err != nil {
		var se *service.StageError
		if errors.As(err, &se) {
			log.Printf("[http] deploy %s@%s failed at %s: %v", ev.AppName, ev.CommitSHA, se.Stage, se.Err)
		} else {
			log.Printf("[http] deploy %s@%s failed: %v", ev.AppName, ev.CommitSHA, err)
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message":  "Deployment triggered for " + result.Record.AppName,
		"commit":   result.Record.CommitSHA,
		"app_name": result.Record.AppName,
	})
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	appName := chi.URLParam(r, "app_name")
	if !appNameRe.MatchString(appName) {
		respondError(w, http.StatusBadRequest, "invalid app name")
		return
	}

	rec, err := s.store.GetDeployment(r.Context(), appName)
	if errors.Is(err, ledger.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no deployment for "+appName)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{"deployment": rec}
	if binding, err := s.store.GetRouteBinding(r.Context(), appName); err == nil {
		resp["route_binding"] = binding
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
