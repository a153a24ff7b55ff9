package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/mailforge/internal/observability/tracing"
	"github.com/smallbiznis/mailforge/internal/provider/adapters"
	providerdomain "github.com/smallbiznis/mailforge/internal/provider/domain"
)

const (
	ProviderID = "openai"

	defaultBaseURL    = "https://api.openai.com/v1"
	defaultTextModel  = "gpt-4o-mini"
	defaultImageModel = "dall-e-3"
	defaultTimeout    = 30 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderID
}

func (f *Factory) NewClient(cfg providerdomain.Config) (providerdomain.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, providerdomain.ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		timeout:    timeout,
		httpClient: tracing.WrapHTTPClient(cfg.HTTPClient),
	}, nil
}

// Client calls the OpenAI chat completions and image generation APIs.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

func (c *Client) ProviderID() string {
	return ProviderID
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
}

func (c *Client) GenerateText(ctx context.Context, req providerdomain.TextRequest) (*providerdomain.TextResult, error) {
	model := c.model
	if model == "" {
		model = defaultTextModel
	}
	body := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write concise marketing email copy. Reply with the requested field only, no preamble."},
			{Role: "user", Content: textPrompt(req)},
		},
	}

	var parsed chatResponse
	if err := c.post(ctx, "/chat/completions", body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassPermanent,
			Provider: ProviderID,
			Message:  "empty completion response",
		}
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassPermanent,
			Provider: ProviderID,
			Message:  "completion returned no content",
		}
	}
	realized := parsed.Model
	if realized == "" {
		realized = model
	}
	return &providerdomain.TextResult{
		Fields:        map[string]string{string(req.Kind): content},
		RealizedModel: realized,
	}, nil
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (c *Client) GenerateImage(ctx context.Context, req providerdomain.ImageRequest) (*providerdomain.ImageResult, error) {
	model := c.model
	if model == "" {
		model = defaultImageModel
	}
	body := imageRequest{
		Model:          model,
		Prompt:         imagePrompt(req.Prompt),
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "url",
	}

	var parsed imageResponse
	if err := c.post(ctx, "/images/generations", body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassPermanent,
			Provider: ProviderID,
			Message:  "image response contained no url",
		}
	}
	return &providerdomain.ImageResult{
		ImageRef:      parsed.Data[0].URL,
		RealizedModel: model,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return adapters.ClassifyTransport(ProviderID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return adapters.ClassifyTransport(ProviderID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return adapters.ClassifyStatus(ProviderID, resp.StatusCode, apiErrorMessage(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &providerdomain.Error{
			Class:    providerdomain.ErrorClassPermanent,
			Provider: ProviderID,
			Message:  "decode response: " + err.Error(),
		}
	}
	return nil
}

// apiErrorMessage pulls the human message out of OpenAI's error envelope,
// falling back to the raw body.
func apiErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(raw)
}
