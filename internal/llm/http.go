package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/order-extractor/internal/common"
)

// maxResponseBytes caps how much of a provider response is read.
var maxResponseBytes int64 = 8 << 20

// HTTPResponse is a fully read provider response.
type HTTPResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// SendJSON posts body as JSON to url with optional headers and reads the whole response. It does
// not interpret the status; callers classify non-2xx answers with ClassifyStatus.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) (HTTPResponse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	reqID := uuid.New().String()
	start := time.Now()

	bs, err := json.Marshal(body)
	if err != nil {
		logger.Error("llm.http.encode_error", "req_id", reqID, "error", err)
		return HTTPResponse{}, fmt.Errorf("encode json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bs))
	if err != nil {
		logger.Error("llm.http.build_request_error", "req_id", reqID, "error", err)
		return HTTPResponse{}, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Debug("llm.http.request",
		"req_id", reqID,
		"url", url,
		"content_length", len(bs),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("llm.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return HTTPResponse{}, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("llm.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > maxResponseBytes {
		logger.Error("llm.http.response_too_large", "req_id", reqID, "limit_bytes", maxResponseBytes)
		return HTTPResponse{}, common.NewAppError(common.CodeProviderUnavailable,
			fmt.Sprintf("provider response exceeds %d bytes", maxResponseBytes), nil)
	}

	logger.Debug("llm.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return HTTPResponse{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}
