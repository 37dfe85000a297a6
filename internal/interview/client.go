package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig configures the interview service client.
type ClientConfig struct {
	BaseURL string        // e.g., "http://localhost:8000/api/interview"
	Timeout time.Duration // HTTP request timeout
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://localhost:8000/api/interview",
		Timeout: 30 * time.Second,
	}
}

// Client talks to the interview conductor service. It is stateless per
// call; the orchestrator serializes calls per session.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new interview client.
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "interview-client").Logger(),
	}
}

// Start begins the interview for the given session.
func (c *Client) Start(ctx context.Context, sessionID string) (*TurnResponse, error) {
	var resp TurnResponse
	if err := c.postJSON(ctx, sessionID, "start", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitAudio uploads a recorded clip as a multipart form and returns the
// transcribed turn. filename should carry the container extension the
// server's transcriber expects (e.g. "clip.webm").
func (c *Client) SubmitAudio(ctx context.Context, sessionID string, audio []byte, filename, mime string) (*TurnResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mime != "" {
		header.Set("Content-Type", mime)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}

	url := c.endpoint(sessionID, "audio")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug().
		Str("sessionId", sessionID).
		Int("bytes", len(audio)).
		Str("mime", mime).
		Msg("Uploading audio clip")

	var resp TurnResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitText sends a typed user message, the text fallback for muted input.
func (c *Client) SubmitText(ctx context.Context, sessionID, text string) (*TurnResponse, error) {
	var resp TurnResponse
	payload := map[string]string{"text": text}
	if err := c.postJSON(ctx, sessionID, "message", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateCode persists the latest code state. Fire-and-forget from the
// engine's perspective: no stage change is expected.
func (c *Client) UpdateCode(ctx context.Context, sessionID, code, language string) error {
	payload := map[string]string{"code": code, "language": language}
	var resp struct {
		OK bool `json:"ok"`
	}
	return c.postJSON(ctx, sessionID, "code", payload, &resp)
}

// ReportIdle tells the server the candidate has been idle. The response
// may carry no assistant content when the server-side cooldown is not
// satisfied.
func (c *Client) ReportIdle(ctx context.Context, sessionID string, secondsIdle int) (*TurnResponse, error) {
	var resp TurnResponse
	payload := map[string]int{"seconds_idle": secondsIdle}
	if err := c.postJSON(ctx, sessionID, "idle", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// State fetches the current session mirror for reconciliation.
func (c *Client) State(ctx context.Context, sessionID string) (*StateResponse, error) {
	url := c.endpoint(sessionID, "state")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp StateResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// postJSON issues a POST with an optional JSON body and decodes into out.
func (c *Client) postJSON(ctx context.Context, sessionID, action string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(sessionID, action), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

// do executes the request and decodes the response, mapping failures onto
// the ErrNetwork / ErrService taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Request failed")
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := decodeDetail(respBody)
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("detail", detail).
			Str("url", req.URL.String()).
			Msg("Service rejected request")
		return &StatusError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Error().Err(err).Str("bodyPreview", truncateForLog(string(respBody), 300)).Msg("Failed to parse response")
		return fmt.Errorf("%w: malformed response: %v", ErrService, err)
	}
	return nil
}

func (c *Client) endpoint(sessionID, action string) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	return base + "/" + sessionID + "/" + action
}

// decodeDetail extracts the FastAPI-style {"detail": ...} message.
func decodeDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return truncateForLog(string(body), 200)
}

// truncateForLog truncates a string for logging purposes.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
