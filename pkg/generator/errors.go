package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/tinyland-inc/wingman/pkg/providers"
)

type Reason string

const (
	ReasonTimeout       Reason = "timeout"
	ReasonQuota         Reason = "quota"
	ReasonContentPolicy Reason = "content_policy"
	ReasonEmpty         Reason = "empty"
	ReasonProvider      Reason = "provider"
)

// GenerationError reports why no message could be produced. The engine
// records Reason and skips the match for the cycle.
type GenerationError struct {
	Reason Reason
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generation failed: " + string(e.Reason)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from err, or "" if err is not a
// generation error.
func ReasonOf(err error) Reason {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Reason
	}
	return ""
}

func classifyError(err error) *GenerationError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerationError{Reason: ReasonTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GenerationError{Reason: ReasonTimeout, Err: err}
	}

	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return &GenerationError{Reason: ReasonQuota, Err: err}
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return &GenerationError{Reason: ReasonTimeout, Err: err}
		case http.StatusBadRequest:
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "content policy") || strings.Contains(msg, "safety") || strings.Contains(msg, "content_filter") {
				return &GenerationError{Reason: ReasonContentPolicy, Err: err}
			}
			if strings.Contains(msg, "credit balance") || strings.Contains(msg, "quota") {
				return &GenerationError{Reason: ReasonQuota, Err: err}
			}
		}
	}
	return &GenerationError{Reason: ReasonProvider, Err: err}
}
