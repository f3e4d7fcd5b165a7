package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/intent"
)

// DefaultActionTimeout bounds one action call.
const DefaultActionTimeout = 8 * time.Second

// HTTPExecutor posts actions to {base}/actions/{action}.
type HTTPExecutor struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

func NewHTTPExecutor(baseURL, token string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	return &HTTPExecutor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

var _ Executor = (*HTTPExecutor)(nil)

// ErrNoBackend is returned by UnavailableExecutor.
var ErrNoBackend = errors.New("no action backend configured")

// UnavailableExecutor fails every action. It stands in when no action
// backend is configured.
type UnavailableExecutor struct{}

func (UnavailableExecutor) Execute(ctx context.Context, action intent.Action, params map[string]string) (string, error) {
	return "", fmt.Errorf("%s: %w", action, ErrNoBackend)
}

type actionRequest struct {
	Parameters map[string]string `json:"parameters"`
}

type actionResponse struct {
	Message string `json:"message"`
}

// Execute issues exactly one request; it does not retry.
func (e *HTTPExecutor) Execute(ctx context.Context, action intent.Action, params map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if params == nil {
		params = map[string]string{}
	}
	body, err := json.Marshal(actionRequest{Parameters: params})
	if err != nil {
		return "", fmt.Errorf("marshaling %s request: %w", action, err)
	}

	endpoint := e.baseURL + "/actions/" + url.PathEscape(string(action))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading %s response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s: unexpected status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out actionResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		// A non-JSON success body is not an error; there is just no message.
		_ = json.Unmarshal(raw, &out)
	}
	return out.Message, nil
}
