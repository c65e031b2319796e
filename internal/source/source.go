package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// Document is one transcript ready for extraction.
type Document struct {
	Meta       extractor.LessonMeta
	Title      string
	Transcript string
}

type Source interface {
	Fetch(ctx context.Context) ([]Document, error)
}

// FileSource reads a single transcript file. When Meta has no lesson ID
// the file name without extension is used.
type FileSource struct {
	Path string
	Meta extractor.LessonMeta
}

func (f FileSource) Fetch(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	meta := f.Meta
	base := strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path))
	if meta.LessonID == "" {
		meta.LessonID = base
	}
	if meta.Source == "" {
		meta.Source = "file"
	}
	return []Document{{Meta: meta, Title: base, Transcript: string(data)}}, nil
}
