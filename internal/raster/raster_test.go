package raster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
	"github.com/joseph-ayodele/order-extractor/internal/storage"
)

// fakeRunner writes page files the way pdftoppm names them.
type fakeRunner struct {
	pages int
	err   error
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.args = append([]string{name}, args...)
	if f.err != nil {
		return nil, []byte("Syntax Error: broken xref"), f.err
	}
	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		name := prefix + "-" + pad(i, f.pages) + ".png"
		if err := os.WriteFile(name, []byte{byte(i)}, 0o600); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func pad(i, total int) string {
	return fmt.Sprintf("%0*d", len(strconv.Itoa(total)), i)
}

func TestRenderPDFOrdersPagesNumerically(t *testing.T) {
	run := &fakeRunner{pages: 11}
	r := NewRasterizer(nil, nil, run, Config{DPI: 100})

	imgs, err := r.Pages(context.Background(), entity.Document{MIMEType: "application/pdf"}, []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Len(t, imgs, 11)
	for i, img := range imgs {
		assert.Equal(t, i+1, img.Page)
		assert.Equal(t, []byte{byte(i + 1)}, img.Data)
		assert.Equal(t, "image/png", img.MIMEType)
	}
	assert.Equal(t, []string{"pdftoppm", "-r", "100", "-png"}, run.args[:4])
}

func TestRenderPDFFailureIsUnsupported(t *testing.T) {
	r := NewRasterizer(nil, nil, &fakeRunner{err: errors.New("exit status 1")}, Config{})
	_, err := r.Pages(context.Background(), entity.Document{MIMEType: "application/pdf"}, []byte("junk"))
	assert.Equal(t, common.CodeUnsupportedDocument, common.CodeOf(err))
	assert.Contains(t, err.Error(), "broken xref")
}

func TestImageIsItsOwnPage(t *testing.T) {
	r := NewRasterizer(nil, nil, &fakeRunner{}, Config{})
	imgs, err := r.Pages(context.Background(), entity.Document{MIMEType: "image/jpeg"}, []byte("jpg"))
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "image/jpeg", imgs[0].MIMEType)
}

func TestStoredPageImagesWin(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "p1.png"), []byte("one"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "p2.jpg"), []byte("two"), 0o600))
	store, err := storage.NewFSStore(root)
	require.NoError(t, err)

	run := &fakeRunner{}
	r := NewRasterizer(nil, store, run, Config{})
	imgs, err := r.Pages(context.Background(), entity.Document{MIMEType: "application/pdf", PageImageKeys: []string{"p1.png", "p2.jpg"}}, nil)
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, "image/jpeg", imgs[1].MIMEType)
	assert.Equal(t, "two", string(imgs[1].Data))
	assert.Nil(t, run.args, "renderer not invoked")

	_, err = r.Pages(context.Background(), entity.Document{PageImageKeys: []string{"missing.png"}}, nil)
	assert.Equal(t, common.CodeStorageUnavailable, common.CodeOf(err))
}

func TestSpreadsheetCannotBeRendered(t *testing.T) {
	r := NewRasterizer(nil, nil, &fakeRunner{}, Config{})
	_, err := r.Pages(context.Background(), entity.Document{MIMEType: "text/csv"}, []byte("a;b"))
	assert.Equal(t, common.CodeUnsupportedDocument, common.CodeOf(err))
}
