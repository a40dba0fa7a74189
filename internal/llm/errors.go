package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/order-extractor/internal/common"
)

const maxErrorBody = 512

// ClassifyStatus maps a non-2xx provider status onto the error taxonomy.
func ClassifyStatus(status int, header http.Header, body []byte) *common.AppError {
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody] + "...(truncated)"
	}
	cause := fmt.Errorf("provider status %d: %s", status, detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return common.NewAppError(common.CodeAuthInvalid, "provider rejected credentials", cause)
	case status == http.StatusTooManyRequests:
		e := common.NewAppError(common.CodeRateLimited, "provider rate limit hit", cause)
		e.RetryAfter = retryAfter(header)
		return e
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return common.NewAppError(common.CodeTimeout, "provider timed out", cause)
	case status >= 500:
		e := common.NewAppError(common.CodeProviderUnavailable, "provider unavailable", cause)
		e.RetryAfter = retryAfter(header)
		return e
	default:
		// Other 4xx statuses mean the request itself is wrong; nothing a retry would fix.
		return common.NewAppError(common.CodeProviderUnavailable, "provider refused request", cause)
	}
}

// ClassifyTransport maps a transport-level failure onto the error taxonomy.
func ClassifyTransport(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.NewAppError(common.CodeTimeout, "provider call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return common.NewAppError(common.CodeCanceled, "provider call canceled", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return common.NewAppError(common.CodeTimeout, "provider call timed out", err)
	}
	return common.NewAppError(common.CodeProviderUnavailable, "provider unreachable", err)
}

func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
