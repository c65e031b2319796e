package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFormatRunSummary_WithRecords(t *testing.T) {
	msg := formatRunSummary(RunSummary{
		LessonID: "L12",
		Source:   "bilibili",
		Link:     "https://b23.tv/abc",
		Records:  4,
		TypeCounts: map[string]int{
			extractor.TypeConcept: 3,
			extractor.TypeSnippet: 0,
			"杂项":                  1,
		},
		Warnings: []string{"chunk 2/3: timeout"},
		Pushed:   map[string]int{"notion": 4, "feishu": 4},
	})

	checks := []string{
		"*Lesson:* L12 (bilibili)",
		"<https://b23.tv/abc>",
		"*Records:* 4",
		extractor.TypeConcept + ": 3",
		"杂项: 1",
		"*Pushed:* feishu 4, notion 4",
		"*Warnings (1):*",
		"chunk 2/3: timeout",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q\n%s", check, msg)
		}
	}
	if strings.Contains(msg, extractor.TypeSnippet) {
		t.Errorf("expected zero counts to be omitted\n%s", msg)
	}
	if strings.Index(msg, extractor.TypeConcept) > strings.Index(msg, "杂项") {
		t.Errorf("expected fixed categories before others\n%s", msg)
	}
}

func TestFormatRunSummary_Empty(t *testing.T) {
	msg := formatRunSummary(RunSummary{
		LessonID: "L13",
		Warnings: []string{"AI analysis failed"},
	})

	if !strings.Contains(msg, "No learning records extracted") {
		t.Errorf("expected empty message, got %q", msg)
	}
	if !strings.Contains(msg, "AI analysis failed") {
		t.Errorf("expected fallback warning, got %q", msg)
	}
}

func TestFormatRunSummary_TruncatesWarnings(t *testing.T) {
	var warnings []string
	for i := 1; i <= 8; i++ {
		warnings = append(warnings, fmt.Sprintf("warning %d", i))
	}
	msg := formatRunSummary(RunSummary{LessonID: "L1", Warnings: warnings})

	if !strings.Contains(msg, "warning 5") {
		t.Errorf("expected fifth warning\n%s", msg)
	}
	if strings.Contains(msg, "warning 6") {
		t.Errorf("expected warnings past five to be cut\n%s", msg)
	}
	if !strings.Contains(msg, "and 3 more") {
		t.Errorf("expected overflow note\n%s", msg)
	}
}

func TestPostRunSummary_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}
		if _, ok := payload["thread_ts"]; ok {
			t.Error("expected no thread reply for a short summary")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.SetAPIURL(server.URL)

	ts, err := p.PostRunSummary(context.Background(), RunSummary{LessonID: "L1", Records: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "1234567890.123456" {
		t.Errorf("expected ts 1234567890.123456, got %q", ts)
	}
}

func TestPostRunSummary_ThreadsLongWarnings(t *testing.T) {
	var threads []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if ts, ok := payload["thread_ts"].(string); ok {
			threads = append(threads, ts)
			if text, _ := payload["text"].(string); !strings.Contains(text, "7. w7") {
				t.Errorf("expected full warning list in thread, got %q", text)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "ts": "111.222"})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.SetAPIURL(server.URL)

	warnings := []string{"w1", "w2", "w3", "w4", "w5", "w6", "w7"}
	if _, err := p.PostRunSummary(context.Background(), RunSummary{LessonID: "L1", Warnings: warnings}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(threads) != 1 || threads[0] != "111.222" {
		t.Errorf("expected one thread reply on 111.222, got %v", threads)
	}
}

func TestPostRunSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.SetAPIURL(server.URL)

	_, err := p.PostRunSummary(context.Background(), RunSummary{LessonID: "L1"})
	if err == nil {
		t.Fatal("expected error for slack error response")
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("expected slack error code in message, got %v", err)
	}
}
