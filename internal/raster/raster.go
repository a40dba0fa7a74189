// Package raster turns documents into page images for vision extraction.
package raster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
	"github.com/joseph-ayodele/order-extractor/internal/llm"
	"github.com/joseph-ayodele/order-extractor/internal/storage"
)

// Config selects the PDF renderer.
type Config struct {
	Binary string // default pdftoppm
	DPI    int    // default 150
}

// Rasterizer implements llm.PageSource. Stored page images win over rendering.
type Rasterizer struct {
	store  storage.Store
	runner Runner
	cfg    Config
	logger *slog.Logger
}

// NewRasterizer wires a page source. store may be nil when documents never carry image keys;
// runner defaults to ExecRunner.
func NewRasterizer(logger *slog.Logger, store storage.Store, runner Runner, cfg Config) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if cfg.Binary == "" {
		cfg.Binary = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	return &Rasterizer{store: store, runner: runner, cfg: cfg, logger: logger}
}

func (r *Rasterizer) Pages(ctx context.Context, doc entity.Document, content []byte) ([]llm.Image, error) {
	if len(doc.PageImageKeys) > 0 {
		return r.stored(ctx, doc.PageImageKeys)
	}
	switch constants.MapMIMEToFormat(doc.MIMEType) {
	case constants.IMAGE:
		return []llm.Image{{Page: 1, MIMEType: constants.NormalizeMIME(doc.MIMEType), Data: content}}, nil
	case constants.PDF:
		return r.renderPDF(ctx, content)
	default:
		return nil, common.NewAppError(common.CodeUnsupportedDocument,
			fmt.Sprintf("cannot render %q documents as images", doc.MIMEType), nil)
	}
}

func (r *Rasterizer) stored(ctx context.Context, keys []string) ([]llm.Image, error) {
	if r.store == nil {
		return nil, common.NewAppError(common.CodeStorageUnavailable, "no storage configured for page images", nil)
	}
	out := make([]llm.Image, 0, len(keys))
	for i, key := range keys {
		b, err := storage.ReadAll(ctx, r.store, key)
		if err != nil {
			return nil, common.NewAppError(common.CodeStorageUnavailable, "load page image "+key, err)
		}
		out = append(out, llm.Image{Page: i + 1, MIMEType: constants.MIMEForExt(filepath.Ext(key)), Data: b})
	}
	return out, nil
}

// renderPDF runs `pdftoppm -r <dpi> -png in.pdf <dir>/page` and collects page-N.png in page order.
func (r *Rasterizer) renderPDF(ctx context.Context, content []byte) ([]llm.Image, error) {
	dir, err := os.MkdirTemp("", "orderex-raster-*")
	if err != nil {
		return nil, fmt.Errorf("raster temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("raster.cleanup_failed", "dir", dir, "error", err)
		}
	}()

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, content, 0o600); err != nil {
		return nil, fmt.Errorf("raster write input: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	if _, errb, err := r.runner.Run(ctx, r.cfg.Binary, r.logger, "-r", strconv.Itoa(r.cfg.DPI), "-png", in, prefix); err != nil {
		return nil, common.NewAppError(common.CodeUnsupportedDocument, "pdf rasterisation failed",
			fmt.Errorf("%s: %w: %s", r.cfg.Binary, err, truncate(strings.TrimSpace(string(errb)), 512)))
	}

	names, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	type page struct {
		n    int
		path string
	}
	pages := make([]page, 0, len(names))
	for _, name := range names {
		base := strings.TrimSuffix(filepath.Base(name), ".png")
		n, err := strconv.Atoi(base[strings.LastIndexByte(base, '-')+1:])
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: name})
	}
	// pdftoppm zero-pads to the page count width; sort numerically regardless.
	slices.SortFunc(pages, func(a, b page) int { return a.n - b.n })

	out := make([]llm.Image, 0, len(pages))
	for i, p := range pages {
		b, err := os.ReadFile(p.path)
		if err != nil {
			return nil, fmt.Errorf("raster read page %d: %w", p.n, err)
		}
		out = append(out, llm.Image{Page: i + 1, MIMEType: "image/png", Data: b})
	}
	r.logger.Debug("raster.pdf.done", "pages", len(out), "dpi", r.cfg.DPI)
	return out, nil
}
