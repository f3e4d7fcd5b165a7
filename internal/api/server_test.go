package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/aide/internal/assistant"
	"github.com/kalambet/aide/internal/persona"
	"github.com/kalambet/aide/internal/profile"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestAuth_RejectsMissingAndWrongToken(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	for _, auth := range []string{"", "Bearer wrong", testToken} {
		req := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Authorization %q: expected 401, got %d", auth, rr.Code)
		}
	}
}

func TestAuth_QueryTokenOnlyForUpgrades(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/history?access_token="+testToken, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("plain request with query token: expected 401, got %d", rr.Code)
	}
}

func TestPostTurn(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	rr := do(t, h, http.MethodPost, "/v1/turns", `{"text":"how did I sleep?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var res assistant.TurnResult
	decode(t, rr, &res)
	if res.Reply.Text != "echo: how did I sleep?" {
		t.Errorf("unexpected reply %q", res.Reply.Text)
	}
	if res.User.Text != "how did I sleep?" {
		t.Errorf("unexpected user turn %q", res.User.Text)
	}
	if len(res.Suggestions) != 1 {
		t.Errorf("expected suggestions, got %v", res.Suggestions)
	}
	if got := env.assistant.lastSource(); got != "text" {
		t.Errorf("expected default source text, got %q", got)
	}
}

func TestPostTurn_Errors(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	if rr := do(t, h, http.MethodPost, "/v1/turns", `{"text":"   "}`); rr.Code != http.StatusBadRequest {
		t.Errorf("blank text: expected 400, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/turns", `{invalid`); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid body: expected 400, got %d", rr.Code)
	}

	env.assistant.err = errors.New("shutting down")
	rr := do(t, h, http.MethodPost, "/v1/turns", `{"text":"hi"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decode(t, rr, &body)
	if body.Error.Type != "api_error" || !strings.Contains(body.Error.Message, "shutting down") {
		t.Errorf("unexpected error envelope: %+v", body.Error)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	var empty struct {
		Turns []json.RawMessage `json:"turns"`
	}
	decode(t, do(t, h, http.MethodGet, "/v1/history", ""), &empty)
	if empty.Turns == nil || len(empty.Turns) != 0 {
		t.Fatalf("expected empty array, got %v", empty.Turns)
	}

	do(t, h, http.MethodPost, "/v1/turns", `{"text":"one","source":"voice"}`)
	do(t, h, http.MethodPost, "/v1/turns", `{"text":"two"}`)

	var got struct {
		Turns []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"turns"`
	}
	decode(t, do(t, h, http.MethodGet, "/v1/history", ""), &got)
	if len(got.Turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(got.Turns))
	}
	if got.Turns[0].Role != "user" || got.Turns[0].Text != "one" {
		t.Errorf("unexpected first turn %+v", got.Turns[0])
	}
	if got.Turns[3].Text != "echo: two" {
		t.Errorf("unexpected last turn %+v", got.Turns[3])
	}
}

func TestPersona_GetAndScore(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)
	events, unsubscribe := env.bus.Subscribe(8)
	defer unsubscribe()

	var st persona.State
	decode(t, do(t, h, http.MethodGet, "/v1/persona", ""), &st)
	if st.Tier != persona.Novice {
		t.Fatalf("expected novice, got %v", st.Tier)
	}

	rr := do(t, h, http.MethodPost, "/v1/persona/score", `{"score":40}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decode(t, rr, &st)
	if st.Tier != persona.Analytical {
		t.Errorf("expected analytical, got %v", st.Tier)
	}
	if st.VoiceIdentity != persona.Analytical.Voice() {
		t.Errorf("expected voice %q, got %q", persona.Analytical.Voice(), st.VoiceIdentity)
	}

	ev := <-events
	if ev.Type != assistant.EventTierUnlocked {
		t.Fatalf("expected tier_unlocked, got %s", ev.Type)
	}
	tr := ev.Data.(persona.Transition)
	if tr.From != persona.Novice || tr.To != persona.Analytical || tr.Source != "score" {
		t.Errorf("unexpected transition %+v", tr)
	}

	decode(t, do(t, h, http.MethodGet, "/v1/persona", ""), &st)
	if st.Tier != persona.Analytical {
		t.Errorf("GET after score: expected analytical, got %v", st.Tier)
	}
}

func TestPersona_IntegrationScore(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)
	events, unsubscribe := env.bus.Subscribe(8)
	defer unsubscribe()

	var st persona.State
	decode(t, do(t, h, http.MethodPost, "/v1/persona/score", `{"score":70,"integration":"strava"}`), &st)
	if st.Tier != persona.Proactive {
		t.Fatalf("expected proactive, got %v", st.Tier)
	}

	tr := (<-events).Data.(persona.Transition)
	if tr.Source != "integration:strava" {
		t.Errorf("unexpected source %q", tr.Source)
	}
}

func TestPersona_ScoreRequired(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	if rr := do(t, h, http.MethodPost, "/v1/persona/score", `{"integration":"strava"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestTrust(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	var body struct {
		Trust float64 `json:"trust"`
	}
	decode(t, do(t, h, http.MethodGet, "/v1/trust", ""), &body)
	if body.Trust != 50 {
		t.Fatalf("expected 50, got %v", body.Trust)
	}

	decode(t, do(t, h, http.MethodPut, "/v1/trust", `{"trust":150}`), &body)
	if body.Trust != 100 {
		t.Errorf("expected clamp to 100, got %v", body.Trust)
	}
	decode(t, do(t, h, http.MethodGet, "/v1/trust", ""), &body)
	if body.Trust != 100 {
		t.Errorf("GET after PUT: expected 100, got %v", body.Trust)
	}

	if rr := do(t, h, http.MethodPut, "/v1/trust", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("missing trust: expected 400, got %d", rr.Code)
	}
}

func TestPreferences(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	rr := do(t, h, http.MethodPatch, "/v1/preferences", `{"name":"Sam","communication.tone":"warm","interests":"running, chess"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var p profile.Preferences
	decode(t, rr, &p)
	if p.Name != "Sam" || p.Tone != "warm" {
		t.Errorf("unexpected preferences %+v", p)
	}
	if len(p.Interests) != 2 || p.Interests[0] != "running" {
		t.Errorf("unexpected interests %v", p.Interests)
	}

	decode(t, do(t, h, http.MethodGet, "/v1/preferences", ""), &p)
	if p.Name != "Sam" {
		t.Errorf("GET: unexpected name %q", p.Name)
	}

	// An empty value clears the key.
	var cleared profile.Preferences
	decode(t, do(t, h, http.MethodPatch, "/v1/preferences", `{"name":""}`), &cleared)
	if cleared.Name != "" || cleared.Tone != "warm" {
		t.Errorf("expected only name cleared, got %+v", cleared)
	}
}

func TestPreferences_Invalid(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	if rr := do(t, h, http.MethodPatch, "/v1/preferences", `{"shoe_size":"42"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown key: expected 400, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPatch, "/v1/preferences", `{}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty patch: expected 400, got %d", rr.Code)
	}
}

func TestContext_Profile(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	rr := do(t, h, http.MethodGet, "/v1/context?profile=recent", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Domains map[string]json.RawMessage `json:"domains"`
		Absent  []string                   `json:"absent"`
	}
	decode(t, rr, &body)
	if len(body.Domains) != 3 {
		t.Fatalf("expected 3 domains, got %v", body.Domains)
	}
	if string(body.Domains["health"]) != `{"steps":8000}` {
		t.Errorf("unexpected health payload %s", body.Domains["health"])
	}
	if string(body.Domains["fitness"]) != "null" {
		t.Errorf("expected fitness null, got %s", body.Domains["fitness"])
	}
	if len(body.Absent) != 1 || body.Absent[0] != "fitness" {
		t.Errorf("unexpected absent list %v", body.Absent)
	}
}

func TestContext_Domains(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.deps)

	var body struct {
		Domains map[string]json.RawMessage `json:"domains"`
		Absent  []string                   `json:"absent"`
	}
	decode(t, do(t, h, http.MethodGet, "/v1/context?domains=calendar", ""), &body)
	if len(body.Domains) != 1 || body.Absent == nil || len(body.Absent) != 0 {
		t.Errorf("unexpected body %+v", body)
	}

	if rr := do(t, h, http.MethodGet, "/v1/context?domains=horoscope", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown domain: expected 400, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/context?profile=everything", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown profile: expected 400, got %d", rr.Code)
	}
}
