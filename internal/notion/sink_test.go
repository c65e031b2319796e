package notion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jomei/notionapi"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePages struct {
	requests []*notionapi.PageCreateRequest
	failAt   int
}

func (f *fakePages) Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.requests = append(f.requests, req)
	if f.failAt > 0 && len(f.requests) == f.failAt {
		return nil, errors.New("validation_error")
	}
	return &notionapi.Page{}, nil
}

func sampleFields() map[string]any {
	return map[string]any{
		extractor.FieldLessonID:     "L1",
		extractor.FieldSeq:          3,
		extractor.FieldType:         extractor.TypeSnippet,
		extractor.FieldTags:         "并发，channel、channel",
		extractor.FieldTitle:        "select 超时",
		extractor.FieldSummary:      "",
		extractor.FieldMasteryState: "待整理",
		extractor.FieldMasteryScore: 1,
		extractor.FieldLink:         "https://example.com/l1",
		extractor.FieldDetails:      strings.Repeat("码", 2500),
	}
}

func TestProperties_Mapping(t *testing.T) {
	props := properties(sampleFields())

	title, ok := props[extractor.FieldTitle].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "select 超时" {
		t.Errorf("title = %+v", props[extractor.FieldTitle])
	}
	if sel, ok := props[extractor.FieldType].(notionapi.SelectProperty); !ok || sel.Select.Name != extractor.TypeSnippet {
		t.Errorf("type = %+v", props[extractor.FieldType])
	}
	tags, ok := props[extractor.FieldTags].(notionapi.MultiSelectProperty)
	if !ok || len(tags.MultiSelect) != 2 || tags.MultiSelect[0].Name != "并发" || tags.MultiSelect[1].Name != "channel" {
		t.Errorf("tags = %+v", props[extractor.FieldTags])
	}
	if num, ok := props[extractor.FieldSeq].(notionapi.NumberProperty); !ok || num.Number != 3 {
		t.Errorf("seq = %+v", props[extractor.FieldSeq])
	}
	if url, ok := props[extractor.FieldLink].(notionapi.URLProperty); !ok || url.URL != "https://example.com/l1" {
		t.Errorf("link = %+v", props[extractor.FieldLink])
	}
	if _, ok := props[extractor.FieldSummary]; ok {
		t.Error("expected empty text fields to be omitted")
	}
	details := props[extractor.FieldDetails].(notionapi.RichTextProperty)
	if n := len([]rune(details.RichText[0].Text.Content)); n != maxRichText {
		t.Errorf("expected details truncated to %d runes, got %d", maxRichText, n)
	}
}

func TestProperties_AlwaysHasTitle(t *testing.T) {
	props := properties(map[string]any{extractor.FieldLessonID: "L1"})
	if _, ok := props[extractor.FieldTitle].(notionapi.TitleProperty); !ok {
		t.Error("expected a title property")
	}
}

func TestPush_CreatesPagesInOrder(t *testing.T) {
	pages := &fakePages{}
	s := &Sink{pages: pages, dbID: "db1", logger: discardLogger()}

	recs := []extractor.SinkRecord{{Fields: sampleFields()}, {Fields: sampleFields()}}
	n, err := s.Push(context.Background(), "L1", recs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || len(pages.requests) != 2 {
		t.Fatalf("expected 2 pages, got %d (%d requests)", n, len(pages.requests))
	}
	if pages.requests[0].Parent.DatabaseID != "db1" || pages.requests[0].Parent.Type != notionapi.ParentTypeDatabaseID {
		t.Errorf("parent = %+v", pages.requests[0].Parent)
	}
}

func TestPush_StopsAtFailure(t *testing.T) {
	pages := &fakePages{failAt: 2}
	s := &Sink{pages: pages, dbID: "db1", logger: discardLogger()}

	recs := []extractor.SinkRecord{{Fields: sampleFields()}, {Fields: sampleFields()}, {Fields: sampleFields()}}
	n, err := s.Push(context.Background(), "L1", recs)
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 1 {
		t.Errorf("expected 1 page created before failure, got %d", n)
	}
	if len(pages.requests) != 2 {
		t.Errorf("expected push to stop after failure, got %d requests", len(pages.requests))
	}
}

func TestPush_RequiresDatabase(t *testing.T) {
	s := &Sink{pages: &fakePages{}, logger: discardLogger()}
	if _, err := s.Push(context.Background(), "L1", nil); err == nil {
		t.Fatal("expected error without database id")
	}
}
