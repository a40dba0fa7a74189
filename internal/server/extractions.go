// Package server exposes run_extraction and retry_extraction over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

const maxBodyBytes = 1 << 20

// Extractor is the engine entry point served by ExtractionService.
type Extractor interface {
	RunExtraction(ctx context.Context, doc entity.Document) (entity.ExtractionRun, error)
	RetryExtraction(ctx context.Context, doc entity.Document, forceLLM bool) (entity.ExtractionRun, error)
}

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

type ExtractionService struct {
	proc   Extractor
	health HealthFunc
	logger *slog.Logger
}

func NewExtractionService(proc Extractor, health HealthFunc, logger *slog.Logger) *ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionService{proc: proc, health: health, logger: logger}
}

// NewRouter mounts the service on a chi router with request ids and panic recovery.
func NewRouter(svc *ExtractionService) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(svc.requestLogger)
	svc.RegisterHTTP(r)
	return r
}

func (s *ExtractionService) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1/extractions", func(r chi.Router) {
		r.Post("/", s.handleRun)
		r.Post("/retry", s.handleRetry)
	})
}

func (s *ExtractionService) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("http.health.failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ExtractionService) handleRun(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocument(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.proc.RunExtraction(r.Context(), doc)
	s.respond(w, r, run, err)
}

func (s *ExtractionService) handleRetry(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := strings.TrimSpace(r.URL.Query().Get("force_llm")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, common.NewAppError(common.CodeInvalidInput, "force_llm must be true or false", err))
			return
		}
		force = b
	}
	doc, err := decodeDocument(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.proc.RetryExtraction(r.Context(), doc, force)
	s.respond(w, r, run, err)
}

// respond writes the terminal run. A failed run is still a 200: the run record is the result.
// Sink errors are logged and flagged in a header since the run itself is valid.
func (s *ExtractionService) respond(w http.ResponseWriter, r *http.Request, run entity.ExtractionRun, err error) {
	if !run.Status.IsTerminal() {
		writeError(w, common.NewAppError(common.CodeInternal, "run did not terminate", err))
		return
	}
	if err != nil {
		s.logger.Error("http.extraction.sink_failed",
			"req_id", middleware.GetReqID(r.Context()),
			"run_id", run.ID,
			"error", err,
		)
		w.Header().Set("X-Run-Recorded", "false")
	}
	writeJSON(w, http.StatusOK, run)
}

func decodeDocument(w http.ResponseWriter, r *http.Request) (entity.Document, error) {
	var doc entity.Document
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&doc); err != nil {
		return doc, common.NewAppError(common.CodeInvalidInput, "request body must be a document", err)
	}
	v := common.NewValidator()
	v.Field("id", doc.ID, common.Required)
	v.Field("tenant_id", doc.TenantID, common.Required)
	v.Field("content_key", doc.ContentKey, common.Required)
	v.Field("mime_type", doc.MIMEType, common.Required)
	if doc.TextCoverage != nil {
		v.Field("text_coverage", *doc.TextCoverage, common.Between(0, 1))
	}
	if err := v.Error(); err != nil {
		return doc, common.NewAppError(common.CodeInvalidInput, v.ErrorMessage(), err)
	}
	if constants.MapMIMEToFormat(doc.MIMEType) == "" {
		return doc, common.NewAppError(common.CodeUnsupportedDocument, "unsupported mime_type "+doc.MIMEType, nil)
	}
	return doc, nil
}

func (s *ExtractionService) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := common.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))
		s.logger.Info("http.request",
			"req_id", middleware.GetReqID(ctx),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error's gRPC status onto an HTTP status and honours RetryInfo.
func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	body := errorBody{Code: string(common.CodeOf(err)), Message: err.Error()}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
	}
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			secs := int64(math.Ceil(ri.GetRetryDelay().AsDuration().Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}
	writeJSON(w, httpStatus(st.Code()), body)
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DataLoss:
		return http.StatusBadGateway
	case codes.Canceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
