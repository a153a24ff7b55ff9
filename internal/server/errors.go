package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	campaigndomain "github.com/smallbiznis/mailforge/internal/campaign/domain"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
	"github.com/smallbiznis/mailforge/pkg/pagination"
)

// apiError is the wire shape of every error response.
type apiError struct {
	Status  int          `json:"-"`
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []fieldIssue `json:"fields,omitempty"`
}

type fieldIssue struct {
	Field  string `json:"field"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

func (e *apiError) Error() string { return e.Code + ": " + e.Message }

var (
	ErrUnauthorized = &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "missing or invalid API key"}
	ErrNotFound     = &apiError{Status: http.StatusNotFound, Code: "not_found", Message: "resource not found"}
	ErrRateLimited  = &apiError{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: "too many requests"}
)

func invalidRequestError() *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body could not be parsed"}
}

func newValidationError(field, rule, detail string) *apiError {
	return &apiError{
		Status:  http.StatusBadRequest,
		Code:    "validation_failed",
		Message: "request validation failed",
		Fields:  []fieldIssue{{Field: field, Rule: rule, Detail: detail}},
	}
}

// AbortWithError renders any error as the JSON error envelope, translating
// domain sentinels to HTTP statuses.
func AbortWithError(c *gin.Context, err error) {
	var typed *apiError
	if errors.As(err, &typed) {
		c.AbortWithStatusJSON(typed.Status, gin.H{"error": typed})
		return
	}

	status := http.StatusInternalServerError
	code := "internal"
	message := "internal server error"

	switch {
	case errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, campaigndomain.ErrCampaignNotFound):
		status, code, message = ErrNotFound.Status, ErrNotFound.Code, ErrNotFound.Message
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		status, code, message = http.StatusPaymentRequired, "insufficient_credits", "not enough credits"
	case errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, generationdomain.ErrInvalidAccount),
		errors.Is(err, generationdomain.ErrInvalidCampaign),
		errors.Is(err, generationdomain.ErrNoProducts),
		errors.Is(err, campaigndomain.ErrInvalidCampaign),
		errors.Is(err, pagination.ErrInvalidPageToken):
		status, code, message = http.StatusBadRequest, "invalid_request", err.Error()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}
