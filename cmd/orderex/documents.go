package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

// documentFor describes the file at root/rel as a Document. The content key is rel itself.
func documentFor(root, rel, tenantID string) (entity.Document, error) {
	rel = filepath.ToSlash(rel)
	mt := constants.MIMEForExt(filepath.Ext(rel))
	if mt == "" {
		return entity.Document{}, common.NewAppError(common.CodeUnsupportedDocument,
			fmt.Sprintf("unsupported file type %q", filepath.Ext(rel)), nil)
	}
	return entity.Document{
		ID:         rel,
		TenantID:   tenantID,
		ContentKey: rel,
		MIMEType:   mt,
		Filename:   filepath.Base(rel),
	}, nil
}

// scanDir lists supported files under root, sorted, as paths relative to root. Hidden files
// and directories are skipped.
func scanDir(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if constants.MapExtToFormat(filepath.Ext(path)) == "" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}
