package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
)

// PromptContext carries the campaign inputs a provider turns into copy or
// imagery. Product fields are empty for campaign-level tasks.
type PromptContext struct {
	CampaignName       string
	Tone               string
	ProductName        string
	ProductDescription string
}

// TextRequest asks for one generated text field.
type TextRequest struct {
	Kind   generationdomain.TaskKind
	Prompt PromptContext
}

// TextResult is the artifact of a successful text task.
type TextResult struct {
	Fields        map[string]string
	RealizedModel string
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	Prompt PromptContext
}

// ImageResult is the artifact of a successful image task.
type ImageResult struct {
	ImageRef      string
	RealizedModel string
}

// TextGenerator produces marketing copy for one task kind.
type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)
}

// ImageGenerator produces one image for a prompt context.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// Client is one configured connection to an external AI provider.
type Client interface {
	ProviderID() string
	TextGenerator
	ImageGenerator
}

// Config configures one provider client instance.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// HTTPClient overrides the default transport; tests point it at a stub
	// server.
	HTTPClient *http.Client
}

// Factory builds clients for one provider.
type Factory interface {
	Provider() string
	NewClient(cfg Config) (Client, error)
}

// ErrorClass buckets provider failures for reporting. Every class takes the
// refund path; the class only shapes the operator-facing message.
type ErrorClass string

const (
	ErrorClassTransient   ErrorClass = "transient"
	ErrorClassPermanent   ErrorClass = "permanent"
	ErrorClassRateLimited ErrorClass = "rate_limited"
	ErrorClassUnsupported ErrorClass = "unsupported"
)

// Error is a typed provider failure.
type Error struct {
	Class    ErrorClass
	Provider string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Class)
}

// Retryable reports whether a later retry could plausibly succeed.
func (e *Error) Retryable() bool {
	return e.Class == ErrorClassTransient || e.Class == ErrorClassRateLimited
}

// AsError unwraps a typed provider error.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrMissingAPIKey    = errors.New("missing_api_key")
)
