package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/anthropic"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM answers each call from reply, keyed by the request's chunk id.
type scriptedLLM struct {
	mu       sync.Mutex
	requests []Request
	reply    func(req Request) (string, error)
}

func (s *scriptedLLM) Generate(ctx context.Context, system, prompt string) (string, error) {
	var req Request
	body := prompt[strings.Index(prompt, "{") : strings.LastIndex(prompt, "}")+1]
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return "", fmt.Errorf("bad prompt: %w", err)
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.reply(req)
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func chunkID(req Request) int {
	if req.Chunk == nil {
		return 1
	}
	return req.Chunk.ChunkID
}

func recordsJSON(n int) string {
	recs := make([]string, n)
	for i := range recs {
		recs[i] = `{"fields": {"标题": "item"}}`
	}
	return `{"records": [` + strings.Join(recs, ",") + `]}`
}

func TestExtract_NotConfigured(t *testing.T) {
	ext := New(nil, discardLogger())

	res, err := ext.Extract(context.Background(), "anything", LessonMeta{LessonID: "L1"}, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed() {
		t.Errorf("expected empty fallback, got %+v", res)
	}
	if ext.Configured() {
		t.Error("expected Configured() false")
	}

	if _, err := ext.Invoke(context.Background(), Chunk{Index: 1, Total: 1}, LessonMeta{}, DefaultOptions(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured from Invoke, got %v", err)
	}
}

func TestExtract_EmptyTranscript(t *testing.T) {
	llm := &scriptedLLM{reply: func(Request) (string, error) { return recordsJSON(1), nil }}
	ext := New(llm, discardLogger())

	res, err := ext.Extract(context.Background(), "", testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Chunks != 1 {
		t.Errorf("expected 1 chunk, got %d", res.Chunks)
	}
	if len(res.Records) != 0 {
		t.Errorf("expected 0 records, got %d", len(res.Records))
	}
	if llm.calls() != 0 {
		t.Errorf("expected no analyzer calls for empty transcript, got %d", llm.calls())
	}
}

func TestExtract_TwoChunksEndToEnd(t *testing.T) {
	llm := &scriptedLLM{reply: func(req Request) (string, error) {
		if chunkID(req) == 1 {
			return recordsJSON(3), nil
		}
		return "```json\n" + recordsJSON(2) + "\n```", nil
	}}
	ext := New(llm, discardLogger(), WithMaxChars(28000))

	res, err := ext.Extract(context.Background(), strings.Repeat("讲", 50000), testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Chunks != 2 {
		t.Fatalf("expected 2 chunks, got %d", res.Chunks)
	}
	if len(res.Records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(res.Records))
	}
	for i, rec := range res.Normalized {
		wantKey := fmt.Sprintf("L1-%03d", i+1)
		if rec.RecordKey != wantKey {
			t.Errorf("record %d: key %q, want %q", i, rec.RecordKey, wantKey)
		}
		if rec.Fields[FieldSeq] != i+1 {
			t.Errorf("record %d: seq %v, want %d", i, rec.Fields[FieldSeq], i+1)
		}
	}

	if len(llm.requests) != 2 {
		t.Fatalf("expected 2 analyzer calls, got %d", len(llm.requests))
	}
	second := llm.requests[1]
	if second.Chunk == nil || second.Chunk.SeqStart != 4 || second.Chunk.StartOffset != 28000 || second.Chunk.ChunkTotal != 2 {
		t.Errorf("second request chunk descriptor = %+v", second.Chunk)
	}
}

func TestExtract_SingleChunkHasNoDescriptor(t *testing.T) {
	llm := &scriptedLLM{reply: func(Request) (string, error) { return recordsJSON(1), nil }}
	ext := New(llm, discardLogger())

	if _, err := ext.Extract(context.Background(), "一节短课", testMeta(), DefaultOptions()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if llm.requests[0].Chunk != nil {
		t.Errorf("expected no chunk descriptor, got %+v", llm.requests[0].Chunk)
	}
	if llm.requests[0].Transcript != "一节短课" {
		t.Errorf("transcript = %q", llm.requests[0].Transcript)
	}
}

func TestExtract_ChunkFailureIsAWarning(t *testing.T) {
	llm := &scriptedLLM{reply: func(req Request) (string, error) {
		switch chunkID(req) {
		case 2:
			return "", errors.New("connection reset")
		case 3:
			return "I could not do it", nil
		}
		return recordsJSON(2), nil
	}}
	ext := New(llm, discardLogger(), WithMaxChars(10))

	res, err := ext.Extract(context.Background(), strings.Repeat("a", 40), testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Chunks 1 and 4 succeed with 2 records each.
	if len(res.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(res.Records))
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", res.Warnings)
	}
	if !strings.Contains(res.Warnings[0], "chunk 2/4") || !strings.Contains(res.Warnings[0], "connection reset") {
		t.Errorf("warning 1 = %q", res.Warnings[0])
	}
	if !strings.Contains(res.Warnings[1], "chunk 3/4") {
		t.Errorf("warning 2 = %q", res.Warnings[1])
	}
	if res.Normalized[3].RecordKey != "L1-004" {
		t.Errorf("expected numbering to continue past failed chunks, got %q", res.Normalized[3].RecordKey)
	}
}

func TestExtract_EveryChunkFails(t *testing.T) {
	llm := &scriptedLLM{reply: func(Request) (string, error) { return "", errors.New("503") }}
	ext := New(llm, discardLogger(), WithMaxChars(10))

	res, err := ext.Extract(context.Background(), strings.Repeat("a", 25), testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Failed() {
		t.Errorf("expected empty fallback, got %+v", res)
	}
	if res.Chunks != 3 {
		t.Errorf("expected chunk count kept on fallback, got %d", res.Chunks)
	}
}

func TestExtract_CallTimeout(t *testing.T) {
	llm := LLMFunc(func(ctx context.Context, system, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	ext := New(llm, discardLogger(), WithCallTimeout(10*time.Millisecond))

	res, err := ext.Extract(context.Background(), "slow lesson", testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("timeout must not surface as a run error: %v", err)
	}
	if !res.Failed() {
		t.Errorf("expected fallback after the only chunk timed out, got %+v", res)
	}
}

func TestExtract_CancelReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	llm := &scriptedLLM{reply: func(req Request) (string, error) {
		if chunkID(req) == 2 {
			cancel()
			return "", context.Canceled
		}
		return recordsJSON(2), nil
	}}
	ext := New(llm, discardLogger(), WithMaxChars(10))

	res, err := ext.Extract(ctx, strings.Repeat("a", 30), testMeta(), DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Records) != 2 {
		t.Errorf("expected chunk 1 records kept, got %d", len(res.Records))
	}
	if llm.calls() != 2 {
		t.Errorf("expected chunk 3 dropped, got %d calls", llm.calls())
	}
	last := res.Warnings[len(res.Warnings)-1]
	if !strings.Contains(last, "cancelled after 1 of 3 chunks") {
		t.Errorf("expected cancellation warning, got %v", res.Warnings)
	}
}

func TestExtract_ConcurrentMatchesSequential(t *testing.T) {
	reply := func(req Request) (string, error) {
		n := chunkID(req)
		if n == 3 {
			return "", errors.New("boom")
		}
		return recordsJSON(n), nil
	}
	transcript := strings.Repeat("b", 55)

	seqRes, err := New(&scriptedLLM{reply: reply}, discardLogger(), WithMaxChars(10)).
		Extract(context.Background(), transcript, testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}

	concLLM := &scriptedLLM{reply: reply}
	concRes, err := New(concLLM, discardLogger(), WithMaxChars(10), WithConcurrency(4)).
		Extract(context.Background(), transcript, testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("concurrent: %v", err)
	}

	seqJSON, _ := json.Marshal(seqRes)
	concJSON, _ := json.Marshal(concRes)
	if string(seqJSON) != string(concJSON) {
		t.Errorf("concurrent result differs:\nseq:  %s\nconc: %s", seqJSON, concJSON)
	}
	for _, req := range concLLM.requests {
		if req.Chunk.SeqStart != 0 {
			t.Errorf("concurrent request carried seq_start %d", req.Chunk.SeqStart)
		}
	}
}

func TestExtract_WithAnthropicClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"lesson_id": "L1", "records": [{"fields": {"学习类型": "报错坑", "标题": "nil map 写入 panic"}, "confidence": 0.9}]}`},
			},
			"stop_reason": "end_turn",
		})
	}))
	defer server.Close()

	llm := anthropic.NewClient("test-key", "test-model")
	llm.SetBaseURL(server.URL)

	res, err := New(llm, discardLogger()).Extract(context.Background(), "老师: 往 nil map 里写会 panic", testMeta(), DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	if res.TypeCounts[TypePitfall] != 1 {
		t.Errorf("expected 1 %s, got %v", TypePitfall, res.TypeCounts)
	}
	if res.Normalized[0].RecordKey != "L1-001" {
		t.Errorf("key = %q", res.Normalized[0].RecordKey)
	}
}
