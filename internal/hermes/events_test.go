package hermes

import (
	"encoding/json"
	"testing"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

func TestTranscriptEventParsing(t *testing.T) {
	raw := `{
		"lesson_meta": {"lesson_id": "L7", "source": "bilibili"},
		"transcript": "channel 是引用类型",
		"options": {"max_records": 5},
		"url": "https://example.com/v/7"
	}`

	var ev TranscriptEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("failed to parse TranscriptEvent: %v", err)
	}
	if ev.LessonMeta.LessonID != "L7" {
		t.Errorf("expected lesson_id 'L7', got '%s'", ev.LessonMeta.LessonID)
	}
	opts, err := extractor.DecodeOptions(ev.Options)
	if err != nil {
		t.Fatalf("decode options: %v", err)
	}
	if opts.MaxRecords != 5 || opts.DetailsMaxChars != 800 {
		t.Errorf("expected max_records 5 over defaults, got %+v", opts)
	}
	if ev.URL != "https://example.com/v/7" {
		t.Errorf("expected url, got '%s'", ev.URL)
	}
}

func TestTranscriptEventWithoutOptions(t *testing.T) {
	var ev TranscriptEvent
	if err := json.Unmarshal([]byte(`{"lesson_meta":{"lesson_id":"L8"},"transcript":"x"}`), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ev.Options) != 0 {
		t.Errorf("expected no options, got %s", ev.Options)
	}
}

func TestExtractionCompletedOmitsEmptyRunID(t *testing.T) {
	data, err := json.Marshal(ExtractionCompleted{LessonID: "L1", TypeCounts: map[string]int{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["run_id"]; ok {
		t.Error("expected run_id to be omitted")
	}
	if m["lesson_id"] != "L1" {
		t.Errorf("expected lesson_id L1, got %v", m["lesson_id"])
	}
}
