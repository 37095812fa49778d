package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const DefaultBaseURL = "http://localhost:11434"

// ServiceError reports a failed call to the model service.
type ServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ollama %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ollama %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Options are the sampling parameters forwarded to /api/generate.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type Client struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "ollama",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate sends a non-streaming completion request and returns the trimmed
// response text. Callers bound the call through ctx.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	out, err := c.breaker.Execute(func() (string, error) {
		return c.generate(ctx, prompt, opts)
	})
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) {
			return "", err
		}
		return "", &ServiceError{Op: "generate", Err: err}
	}
	return out, nil
}

func (c *Client) generate(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: opts,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &ServiceError{Op: "generate", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ServiceError{Op: "generate", Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Op: "generate", StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(respBody)))}
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", &ServiceError{Op: "generate", Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	return strings.TrimSpace(genResp.Response), nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping checks that the service is reachable and lists its models.
func (c *Client) Ping(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ServiceError{Op: "tags", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Op: "tags", StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, &ServiceError{Op: "tags", Err: fmt.Errorf("decode: %w", err)}
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
