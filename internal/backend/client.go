// Package backend is the HTTP client for the local text-generation server.
// The server speaks the ollama-style API: POST /api/generate with
// newline-delimited JSON chunks when streaming.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"quill/assistant/internal/logging"
)

const defaultBaseURL = "http://localhost:11434"

var (
	ErrUnavailable = errors.New("generation backend unavailable")
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger.With("component", "backend"),
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Stream sends a prompt and delivers incremental text through onDelta until
// the server signals completion. The full accumulated text is returned.
func (c *Client) Stream(ctx context.Context, model, prompt string, onDelta func(string)) (string, error) {
	body, err := c.post(ctx, generateRequest{Model: model, Prompt: prompt, Stream: true})
	if err != nil {
		return "", err
	}
	defer body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Warn("backend.invalid_chunk", "error", err.Error())
			continue
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			if onDelta != nil {
				onDelta(chunk.Response)
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}

// Generate is the non-streaming variant.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	body, err := c.post(ctx, generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return chunk.Response, nil
}

// Health probes the server root with a short deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload generateRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(message)))
	}
	return resp.Body, nil
}
