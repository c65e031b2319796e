package notion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jomei/notionapi"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// Notion rejects rich text longer than this per block.
const maxRichText = 2000

type pageCreator interface {
	Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// Sink writes each learning record as a page in a Notion database whose
// properties are named after the learning table columns.
type Sink struct {
	pages  pageCreator
	dbID   notionapi.DatabaseID
	logger *slog.Logger
}

func NewSink(token, databaseID string, logger *slog.Logger) *Sink {
	client := notionapi.NewClient(notionapi.Token(token))
	return &Sink{pages: client.Page, dbID: notionapi.DatabaseID(databaseID), logger: logger}
}

func (s *Sink) Name() string {
	return "notion"
}

// Push creates pages in record order and stops at the first failure.
func (s *Sink) Push(ctx context.Context, lessonID string, records []extractor.SinkRecord) (int, error) {
	if s.dbID == "" {
		return 0, fmt.Errorf("database ID not set")
	}

	for i, rec := range records {
		req := &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: s.dbID,
			},
			Properties: properties(rec.Fields),
		}
		if _, err := s.pages.Create(ctx, req); err != nil {
			return i, fmt.Errorf("create page for %s record %d: %w", lessonID, i+1, err)
		}
	}

	s.logger.Info("pushed records to notion", "lesson_id", lessonID, "records", len(records))
	return len(records), nil
}

func properties(fields map[string]any) notionapi.Properties {
	props := notionapi.Properties{}

	for k, v := range fields {
		switch k {
		case extractor.FieldTitle:
			props[k] = notionapi.TitleProperty{
				Type:  notionapi.PropertyTypeTitle,
				Title: richText(text(v)),
			}
		case extractor.FieldType, extractor.FieldMasteryState:
			if s := text(v); s != "" {
				props[k] = notionapi.SelectProperty{
					Type:   notionapi.PropertyTypeSelect,
					Select: notionapi.Option{Name: s},
				}
			}
		case extractor.FieldTags, extractor.FieldKeywords:
			if opts := multiSelect(text(v)); len(opts) > 0 {
				props[k] = notionapi.MultiSelectProperty{
					Type:        notionapi.PropertyTypeMultiSelect,
					MultiSelect: opts,
				}
			}
		case extractor.FieldSeq, extractor.FieldMasteryScore:
			if n, ok := extractor.FloatValue(v); ok {
				props[k] = notionapi.NumberProperty{
					Type:   notionapi.PropertyTypeNumber,
					Number: n,
				}
			}
		case extractor.FieldLink:
			if s := text(v); s != "" {
				props[k] = notionapi.URLProperty{
					Type: notionapi.PropertyTypeURL,
					URL:  s,
				}
			}
		default:
			if s := text(v); s != "" {
				props[k] = notionapi.RichTextProperty{
					Type:     notionapi.PropertyTypeRichText,
					RichText: richText(s),
				}
			}
		}
	}

	// Every database page needs a title.
	if _, ok := props[extractor.FieldTitle]; !ok {
		props[extractor.FieldTitle] = notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(""),
		}
	}
	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{Text: &notionapi.Text{Content: truncate(s, maxRichText)}}}
}

func multiSelect(s string) []notionapi.Option {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '，' || r == '、'
	})
	var opts []notionapi.Option
	seen := map[string]bool{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		// Notion select options cannot contain commas and must be unique.
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		opts = append(opts, notionapi.Option{Name: p})
	}
	return opts
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
