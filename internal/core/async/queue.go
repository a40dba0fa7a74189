package async

import (
	"context"
	"time"

	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

// Job is one document to extract.
type Job struct {
	Document    entity.Document
	ForceLLM    bool // retry_extraction with escalation forced
	Retry       bool // bypass the result cache
	SubmittedAt time.Time
}

// Result is delivered for every dequeued job.
type Result struct {
	Job Job
	Run entity.ExtractionRun
	// Err reports sink failures or a rejected run; extraction failures live on Run.
	Err error
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
