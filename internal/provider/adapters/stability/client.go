package stability

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
	ProviderID = "stability"

	defaultBaseURL = "https://api.stability.ai"
	defaultModel   = "stable-diffusion-xl-1024-v1-0"
	defaultTimeout = 60 * time.Second
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
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		timeout:    timeout,
		httpClient: tracing.WrapHTTPClient(cfg.HTTPClient),
	}, nil
}

// Client calls the Stability text-to-image API. It does not generate text.
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

func (c *Client) GenerateText(ctx context.Context, req providerdomain.TextRequest) (*providerdomain.TextResult, error) {
	return nil, &providerdomain.Error{
		Class:    providerdomain.ErrorClassUnsupported,
		Provider: ProviderID,
		Message:  "text generation is not supported",
	}
}

type generateRequest struct {
	TextPrompts []textPrompt `json:"text_prompts"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Samples     int          `json:"samples"`
}

type textPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type generateResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
}

func (c *Client) GenerateImage(ctx context.Context, req providerdomain.ImageRequest) (*providerdomain.ImageResult, error) {
	body := generateRequest{
		TextPrompts: []textPrompt{{Text: buildPrompt(req.Prompt), Weight: 1}},
		Width:       1024,
		Height:      1024,
		Samples:     1,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := fmt.Sprintf("/v1/generation/%s/text-to-image", c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, adapters.ClassifyTransport(ProviderID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, adapters.ClassifyTransport(ProviderID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, adapters.ClassifyStatus(ProviderID, resp.StatusCode, apiErrorMessage(raw))
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassPermanent,
			Provider: ProviderID,
			Message:  "decode response: " + err.Error(),
		}
	}
	if len(parsed.Artifacts) == 0 || parsed.Artifacts[0].Base64 == "" {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassPermanent,
			Provider: ProviderID,
			Message:  "response contained no artifacts",
		}
	}
	artifact := parsed.Artifacts[0]
	if artifact.FinishReason == "CONTENT_FILTERED" {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassPermanent,
			Provider: ProviderID,
			Message:  "image blocked by content filter",
		}
	}
	return &providerdomain.ImageResult{
		ImageRef:      "data:image/png;base64," + artifact.Base64,
		RealizedModel: c.model,
	}, nil
}

func buildPrompt(prompt providerdomain.PromptContext) string {
	var b strings.Builder
	if prompt.ProductName != "" {
		fmt.Fprintf(&b, "Product photograph of %s", prompt.ProductName)
		if prompt.ProductDescription != "" {
			fmt.Fprintf(&b, ", %s", prompt.ProductDescription)
		}
	} else {
		fmt.Fprintf(&b, "Hero marketing image for campaign %q", prompt.CampaignName)
	}
	if prompt.Tone != "" {
		fmt.Fprintf(&b, ", %s style", prompt.Tone)
	}
	return b.String()
}

func apiErrorMessage(raw []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	return string(raw)
}
