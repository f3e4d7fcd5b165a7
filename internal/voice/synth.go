package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TextSynthesizer hands text to a client that speaks it itself.
type TextSynthesizer struct{}

func (TextSynthesizer) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	return Audio{Text: text, Voice: voice}, nil
}

// maxAudio caps a synthesized clip.
const maxAudio = 16 << 20

// HTTPSynthesizer calls an external text-to-speech service:
// POST {url} {"text","voice","locale"} answered with audio bytes.
type HTTPSynthesizer struct {
	url        string
	locale     string
	httpClient *http.Client
}

func NewHTTPSynthesizer(url, locale string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		url:        url,
		locale:     locale,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type synthRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Locale string `json:"locale,omitempty"`
}

func (h *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	body, err := json.Marshal(synthRequest{Text: text, Voice: voice, Locale: h.locale})
	if err != nil {
		return Audio{}, fmt.Errorf("marshaling tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("creating tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("calling tts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Audio{}, fmt.Errorf("tts: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudio+1))
	if err != nil {
		return Audio{}, fmt.Errorf("reading tts audio: %w", err)
	}
	if len(data) > maxAudio {
		return Audio{}, fmt.Errorf("tts audio exceeds %d bytes", maxAudio)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("tts returned no audio")
	}
	return Audio{
		Text:        text,
		Voice:       voice,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
