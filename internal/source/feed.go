package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

const defaultFeedTimeout = 30 * time.Second

// FeedSource turns the items of an RSS or Atom feed into documents.
type FeedSource struct {
	URL string
	// Limit keeps only the newest items; zero keeps all.
	Limit int
	// Source overrides the feed title as the lesson source.
	Source string
	Client *http.Client
}

func (f FeedSource) Fetch(ctx context.Context) ([]Document, error) {
	fp := gofeed.NewParser()
	fp.Client = f.Client
	if fp.Client == nil {
		fp.Client = &http.Client{Timeout: defaultFeedTimeout}
	}

	feed, err := fp.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", f.URL, err)
	}

	items := newestFirst(feed.Items)
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}

	source := f.Source
	if source == "" {
		source = strings.TrimSpace(feed.Title)
	}

	docs := make([]Document, 0, len(items))
	for _, item := range items {
		body := item.Content
		if strings.TrimSpace(body) == "" {
			body = item.Description
		}
		text, err := HTMLText(body)
		if err != nil {
			return nil, fmt.Errorf("extract text of %s: %w", item.Link, err)
		}
		docs = append(docs, Document{
			Meta: extractor.LessonMeta{
				LessonID: LessonID(item.Link),
				Source:   source,
				Link:     item.Link,
			},
			Title:      strings.TrimSpace(item.Title),
			Transcript: text,
		})
	}
	return docs, nil
}

// LessonID derives a stable lesson ID from an item link.
func LessonID(link string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(link))
	return "L-" + strings.ReplaceAll(id.String(), "-", "")[:8]
}

// newestFirst orders items by publish date when every item carries one.
// Otherwise the feed order is kept, since feeds list newest first.
func newestFirst(items []*gofeed.Item) []*gofeed.Item {
	out := append([]*gofeed.Item(nil), items...)
	for _, it := range out {
		if it.PublishedParsed == nil {
			return out
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedParsed.After(*out[j].PublishedParsed)
	})
	return out
}

// HTMLText strips markup and returns the visible text, one block per line.
func HTMLText(html string) (string, error) {
	if !strings.Contains(html, "<") {
		return strings.TrimSpace(html), nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, pre, tr, h1, h2, h3, h4, h5, h6, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
