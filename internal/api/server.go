// Package api exposes the assistant over HTTP, WebSocket and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/aide/internal/assistant"
	"github.com/kalambet/aide/internal/conversation"
	"github.com/kalambet/aide/internal/gather"
	"github.com/kalambet/aide/internal/persona"
	"github.com/kalambet/aide/internal/profile"
	"github.com/kalambet/aide/internal/voice"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Assistant is the turn pipeline. Implemented by *assistant.Assistant.
type Assistant interface {
	HandleTurn(ctx context.Context, text, source string, onInterim func(string)) (assistant.TurnResult, error)
	History() []conversation.Turn
	Trust() float64
	SetTrust(v float64) (float64, error)
}

// Persona is implemented by *persona.Manager.
type Persona interface {
	Current() persona.State
	SyncTier(ctx context.Context, score float64) (persona.State, error)
	IntegrationConnected(ctx context.Context, integration string, score float64) (persona.State, error)
}

// Preferences is implemented by *profile.Manager.
type Preferences interface {
	Get() (profile.Preferences, error)
	Set(key, value string) error
}

// Gatherer is implemented by *gather.Aggregator.
type Gatherer interface {
	Gather(ctx context.Context, domains []gather.Domain) gather.Snapshot
}

type Deps struct {
	Assistant   Assistant
	Persona     Persona
	Preferences Preferences
	Context     Gatherer
	Bus         *assistant.Bus

	// Synthesizer renders replies on the voice socket. Defaults to
	// voice.TextSynthesizer, leaving speech to the client.
	Synthesizer voice.Synthesizer

	Token string
	// OriginPatterns are the allowed WebSocket origins; empty allows only
	// same-origin requests.
	OriginPatterns []string
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Synthesizer == nil {
		deps.Synthesizer = voice.TextSynthesizer{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/turns", handlePostTurn(deps))
		r.Get("/history", handleHistory(deps))
		r.Get("/persona", handleGetPersona(deps))
		r.Post("/persona/score", handlePostScore(deps))
		r.Get("/trust", handleGetTrust(deps))
		r.Put("/trust", handlePutTrust(deps))
		r.Get("/preferences", handleGetPreferences(deps))
		r.Patch("/preferences", handlePatchPreferences(deps))
		r.Get("/context", handleContext(deps))
		r.Get("/events", handleEvents(deps))
		r.Get("/voice", handleVoice(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type turnRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

func handlePostTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req turnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Source == "" {
			req.Source = "text"
		}

		res, err := deps.Assistant.HandleTurn(r.Context(), req.Text, req.Source, nil)
		switch {
		case errors.Is(err, assistant.ErrEmptyInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		case err != nil:
			httpError(w, http.StatusServiceUnavailable, "api_error", "turn not processed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turns := deps.Assistant.History()
		if turns == nil {
			turns = []conversation.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
	}
}

func handleGetPersona(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Persona.Current())
	}
}

type scoreRequest struct {
	Score       *float64 `json:"score"`
	Integration string   `json:"integration,omitempty"`
}

func handlePostScore(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scoreRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Score == nil || math.IsNaN(*req.Score) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "score is required")
			return
		}

		var st persona.State
		var err error
		if name := strings.TrimSpace(req.Integration); name != "" {
			st, err = deps.Persona.IntegrationConnected(r.Context(), name, *req.Score)
		} else {
			st, err = deps.Persona.SyncTier(r.Context(), *req.Score)
		}
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "syncing tier: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type trustBody struct {
	Trust *float64 `json:"trust"`
}

func handleGetTrust(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := deps.Assistant.Trust()
		writeJSON(w, http.StatusOK, trustBody{Trust: &v})
	}
}

func handlePutTrust(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req trustBody
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Trust == nil || math.IsNaN(*req.Trust) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "trust is required")
			return
		}
		v, err := deps.Assistant.SetTrust(*req.Trust)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving trust: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, trustBody{Trust: &v})
	}
}

func handleGetPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Preferences.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading preferences: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// handlePatchPreferences applies {"key": "value", ...}. An empty value
// clears the key.
func handlePatchPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no preferences given")
			return
		}
		for k, v := range req {
			if err := deps.Preferences.Set(k, v); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "setting %s: %v", k, err)
				return
			}
		}
		handleGetPreferences(deps)(w, r)
	}
}

// handleContext gathers a snapshot on demand: ?profile=full|recent or
// ?domains=health,calendar.
func handleContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var domains []gather.Domain
		var err error
		if list := q.Get("domains"); list != "" {
			domains, err = gather.ParseDomains(list)
		} else {
			domains, err = gather.Profile(q.Get("profile"))
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		snap := deps.Context.Gather(r.Context(), domains)
		writeJSON(w, http.StatusOK, map[string]any{
			"domains": snap,
			"absent":  nonNil(snap.Absent()),
		})
	}
}

func nonNil(d []gather.Domain) []gather.Domain {
	if d == nil {
		return []gather.Domain{}
	}
	return d
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
