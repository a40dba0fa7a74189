package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorCodeRetryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{CodeTimeout, true},
		{CodeRateLimited, true},
		{CodeProviderUnavailable, true},
		{CodeStorageUnavailable, true},
		{CodeCanceled, true},
		{CodeAuthInvalid, false},
		{CodeLLMOutputInvalid, false},
		{CodeBudgetExceeded, false},
		{CodeUnsupportedDocument, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Retryable())
		})
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("call: %w", NewAppError(CodeRateLimited, "slow down", nil))
	assert.Equal(t, CodeRateLimited, CodeOf(wrapped))
	assert.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
	assert.Equal(t, CodeCanceled, CodeOf(context.Canceled))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestAppErrorGRPCStatus(t *testing.T) {
	err := &AppError{Code: CodeRateLimited, Message: "quota", RetryAfter: 2 * time.Second}
	st, ok := status.FromError(fmt.Errorf("wrapped: %w", err))
	require.True(t, ok)
	assert.Equal(t, codes.ResourceExhausted, st.Code())

	var info *errdetails.ErrorInfo
	var retry *errdetails.RetryInfo
	for _, d := range st.Details() {
		switch v := d.(type) {
		case *errdetails.ErrorInfo:
			info = v
		case *errdetails.RetryInfo:
			retry = v
		}
	}
	require.NotNil(t, info)
	assert.Equal(t, "RATE_LIMITED", info.Reason)
	assert.Equal(t, "true", info.Metadata["retryable"])
	require.NotNil(t, retry)
	assert.Equal(t, 2*time.Second, retry.RetryDelay.AsDuration())

	st = NewAppError(CodeAuthInvalid, "bad key", nil).GRPCStatus()
	assert.Equal(t, codes.Unauthenticated, st.Code())
}

func TestValidator(t *testing.T) {
	v := NewValidator()
	v.Field("name", "", Required)
	v.Field("format", "xml", OneOf("console", "json"))
	v.Field("ratio", 1.5, Between(0, 1))
	v.Field("lines", 0, Positive)
	v.Field("currency", "EUR", CurrencyCode)
	v.Field("currency2", "eur", CurrencyCode)

	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 5)
	assert.ErrorIs(t, v.Error(), ErrValidation)
	assert.NoError(t, NewValidator().Error())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 500, cfg.Extraction.MaxLines)
	assert.InDelta(t, 0.60, cfg.Extraction.EscalationConfidence, 1e-9)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, ":9091", cfg.Server.GRPCAddr)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.RequireLLM())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orderex.yaml")
	yaml := "database:\n  driver: postgres\n  dsn: postgres://localhost/orderex\nextraction:\n  max_lines: 250\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("ORDEREX_LLM_MODEL", "gpt-4.1-mini")
	t.Setenv("ORDEREX_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 250, cfg.Extraction.MaxLines)
	assert.Equal(t, "gpt-4.1-mini", cfg.LLM.Model)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestConfigValidateRejects(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	cfg.Database.Driver = "mysql"
	cfg.Extraction.EscalationConfidence = 2

	err = cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, CodeConfig, CodeOf(err))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	logger.Debug("config.loaded", "run_id", "r1")
	assert.Contains(t, buf.String(), `"msg":"config.loaded"`)

	_, err = NewLogger(&buf, LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}
