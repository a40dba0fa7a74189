package extract

import (
	"time"

	"github.com/joseph-ayodele/order-extractor/internal/canonical"
	"github.com/joseph-ayodele/order-extractor/internal/confidence"
)

// finish normalises a table result and scores it.
func finish(t table, m Metrics, start time.Time, maxLines int) Result {
	canonical.Normalize(t.out, canonical.Options{MaxLines: maxLines, SourceLineCount: t.dataRows})
	score := confidence.Apply(t.out, confidence.Penalties{})
	m.RowsRead = t.dataRows
	m.Duration = time.Since(start)
	return Result{
		Success:     true,
		Output:      t.out,
		Confidence:  score,
		Metrics:     m,
		SourceText:  t.text,
		SourceLines: t.dataRows,
	}
}

func failed(err error, m Metrics, start time.Time) Result {
	m.Duration = time.Since(start)
	return Result{Err: err, Metrics: m}
}
