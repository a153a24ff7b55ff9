package adapters

import (
	"context"
	"errors"
	"net/http"
	"strings"

	providerdomain "github.com/smallbiznis/mailforge/internal/provider/domain"
)

// ClassifyStatus maps an HTTP response status to a typed provider error.
func ClassifyStatus(provider string, status int, body string) *providerdomain.Error {
	message := strings.TrimSpace(body)
	if message == "" {
		message = http.StatusText(status)
	}
	class := providerdomain.ErrorClassPermanent
	switch {
	case status == http.StatusTooManyRequests:
		class = providerdomain.ErrorClassRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		class = providerdomain.ErrorClassTransient
	}
	return &providerdomain.Error{Class: class, Provider: provider, Message: message}
}

// ClassifyTransport maps a transport-level failure (timeout, connection
// refused) to a typed provider error. Timeouts are transient; an explicitly
// cancelled call is not worth retrying.
func ClassifyTransport(provider string, err error) *providerdomain.Error {
	message := "request failed"
	if err != nil {
		message = err.Error()
	}
	class := providerdomain.ErrorClassTransient
	if errors.Is(err, context.Canceled) {
		class = providerdomain.ErrorClassPermanent
	}
	return &providerdomain.Error{Class: class, Provider: provider, Message: message}
}
