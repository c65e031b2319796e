package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

const (
	defaultPostMessageURL = "https://slack.com/api/chat.postMessage"
	maxSummaryWarnings    = 5
)

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

// RunSummary is what gets announced after a lesson is extracted.
type RunSummary struct {
	LessonID   string
	Source     string
	Link       string
	RunID      string
	Records    int
	TypeCounts map[string]int
	Warnings   []string
	Pushed     map[string]int
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

func (p *Poster) SetAPIURL(url string) {
	p.apiURL = url
}

// PostRunSummary posts the summary and returns the message timestamp.
// Warnings beyond the first few go into a thread reply.
func (p *Poster) PostRunSummary(ctx context.Context, s RunSummary) (string, error) {
	text := formatRunSummary(s)

	ts, err := p.post(ctx, map[string]any{
		"channel":      p.channel,
		"text":         text,
		"unfurl_links": false,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	p.logger.Info("posted run summary to slack", "ts", ts, "lesson_id", s.LessonID)

	if len(s.Warnings) > maxSummaryWarnings {
		if err := p.PostThread(ctx, ts, formatWarnings(s.Warnings)); err != nil {
			p.logger.Warn("failed to post warnings thread", "error", err, "lesson_id", s.LessonID)
		}
	}
	return ts, nil
}

// PostThread posts a threaded reply to a message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	_, err := p.post(ctx, map[string]any{
		"channel":   p.channel,
		"thread_ts": threadTS,
		"text":      text,
	})
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatRunSummary(s RunSummary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "*Lesson:* %s", s.LessonID)
	if s.Source != "" {
		fmt.Fprintf(&sb, " (%s)", s.Source)
	}
	sb.WriteString("\n")
	if s.Link != "" {
		fmt.Fprintf(&sb, "*Link:* <%s>\n", s.Link)
	}

	if s.Records == 0 {
		sb.WriteString("_No learning records extracted._\n")
	} else {
		fmt.Fprintf(&sb, "*Records:* %d\n", s.Records)
		for _, k := range countKeys(s.TypeCounts) {
			if n := s.TypeCounts[k]; n > 0 {
				fmt.Fprintf(&sb, "• %s: %d\n", k, n)
			}
		}
	}

	if len(s.Pushed) > 0 {
		names := make([]string, 0, len(s.Pushed))
		for name := range s.Pushed {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s %d", name, s.Pushed[name])
		}
		fmt.Fprintf(&sb, "*Pushed:* %s\n", strings.Join(parts, ", "))
	}

	if len(s.Warnings) > 0 {
		fmt.Fprintf(&sb, "*Warnings (%d):*\n", len(s.Warnings))
		for i, w := range s.Warnings {
			if i == maxSummaryWarnings {
				fmt.Fprintf(&sb, "_…and %d more in thread_\n", len(s.Warnings)-maxSummaryWarnings)
				break
			}
			fmt.Fprintf(&sb, "• %s\n", w)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString("*All warnings:*\n")
	for i, w := range warnings {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, w)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// countKeys lists the fixed categories first, then any others sorted.
func countKeys(counts map[string]int) []string {
	keys := append([]string(nil), extractor.Categories...)
	fixed := map[string]bool{}
	for _, k := range keys {
		fixed[k] = true
	}
	var extra []string
	for k := range counts {
		if !fixed[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
