package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/procurement-extractor/internal/domain"
	"github.com/spherical/procurement-extractor/internal/observability"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1/chat/completions"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4000
	defaultTimeout   = 120 * time.Second
)

// Options configures a Client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // per attempt
	Retry       RetryConfig
	HTTPClient  *http.Client
	Logger      *observability.Logger
}

// Client handles communication with an OpenAI-compatible chat completions API
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	retry       RetryConfig
	httpClient  *http.Client
	logger      *observability.Logger
	sleep       func(context.Context, time.Duration) error
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// Response represents the API response structure
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice
type Choice struct {
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// ChoiceMessage is the assistant message of a choice
type ChoiceMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient creates a new extraction client. A missing API key is a
// startup error.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, domain.StartupError("API key is required (set OPENAI_API_KEY)", nil)
	}

	c := &Client{
		apiKey:      opts.APIKey,
		baseURL:     opts.BaseURL,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		retry:       opts.Retry.withDefaults(),
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		sleep:       sleepContext,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = observability.Nop()
	}
	c.logger = c.logger.WithComponent("llm")

	return c, nil
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Extract sends one page image with its instruction and returns the raw
// completion text. Attempts is set also on failure.
func (c *Client) Extract(ctx context.Context, req domain.PageRequest) (domain.Completion, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return domain.Completion{}, domain.APIError("Failed to marshal request", err)
	}

	text, attempts, err := c.send(ctx, body, req.Context)
	return domain.Completion{Text: text, Attempts: attempts}, err
}

// buildRequest constructs the API request with the image
func (c *Client) buildRequest(req domain.PageRequest) *Request {
	mime := req.Image.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	imageURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image.Data)

	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{
				Type: "text",
				Text: instructionFor(req),
			},
			{
				Type:     "image_url",
				ImageURL: &ImageURL{URL: imageURL},
			},
		},
	}

	return &Request{
		Model:       c.model,
		Messages:    []Message{msg},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
}

// send posts body with bounded retries and exponential backoff.
func (c *Client) send(ctx context.Context, body []byte, pc domain.PageContext) (string, int, error) {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", attempt, err
		}

		text, outcome, err := c.attempt(ctx, body)
		switch outcome {
		case OutcomeSuccess:
			return text, attempt + 1, nil
		case OutcomeFatal:
			if ctx.Err() != nil {
				return "", attempt + 1, ctx.Err()
			}
			return "", attempt + 1, domain.APIError("request rejected", err)
		}
		lastErr = err

		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		backoff := calculateBackoff(attempt, c.retry)
		c.logger.Warn().
			Str("source_file", pc.SourceFile).
			Int("page", pc.PageNumber).
			Int("attempt", attempt+1).
			Int("max_attempts", c.retry.MaxAttempts).
			Dur("backoff", backoff).
			Err(err).
			Msg("request failed, retrying")

		if err := c.sleep(ctx, backoff); err != nil {
			return "", attempt + 1, err
		}
	}

	return "", c.retry.MaxAttempts, domain.APIError(fmt.Sprintf("request failed after %d attempts", c.retry.MaxAttempts), lastErr)
}

// attempt performs one HTTP call under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, body []byte) (string, Outcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", OutcomeFatal, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classify(ctx, 0, err), err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(ctx, 0, err), fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classify(ctx, resp.StatusCode, nil), statusError(resp.StatusCode, data)
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", OutcomeRetryable, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", OutcomeRetryable, fmt.Errorf("response has no choices")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), OutcomeSuccess, nil
}

func statusError(status int, body []byte) error {
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return fmt.Errorf("API returned status %d: %s", status, env.Error.Message)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return fmt.Errorf("API returned status %d: %s", status, msg)
}

func instructionFor(req domain.PageRequest) string {
	if req.Instruction != "" {
		return req.Instruction
	}
	return BuildInstruction(req.Context, req.Image.Text)
}
