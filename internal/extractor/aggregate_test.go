package extractor

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAggregate_OrdersBySeqAndConcatenatesWarnings(t *testing.T) {
	meta := testMeta()
	first := Normalize(mustParse(t, `{"records": [{}, {}], "warnings": ["w1"]}`), meta, DefaultOptions(), 1, 0, 10)
	second := Normalize(mustParse(t, `{"records": [{}], "warnings": ["w2"]}`), meta, DefaultOptions(), first.NextSeq, 10, 10)

	res := Aggregate([]ChunkResult{first, second})

	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.Fields[FieldSeq] != i+1 {
			t.Errorf("record %d: seq = %v", i, rec.Fields[FieldSeq])
		}
	}
	if strings.Join(res.Warnings, ",") != "w1,w2" {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if res.TypeCounts[TypeConcept] != 3 {
		t.Errorf("expected 3 %s, got %d", TypeConcept, res.TypeCounts[TypeConcept])
	}
}

func TestAggregate_LastKeyWins(t *testing.T) {
	meta := testMeta()
	first := Normalize(mustParse(t, `{"records": [{}, {"record_key": "L1-007", "fields": {"标题": "from chunk 1"}}]}`), meta, DefaultOptions(), 1, 0, 10)
	second := Normalize(mustParse(t, `{"records": [{"record_key": "L1-007", "fields": {"标题": "from chunk 2"}}]}`), meta, DefaultOptions(), first.NextSeq, 10, 10)

	res := Aggregate([]ChunkResult{first, second})

	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records after dedup, got %d", len(res.Records))
	}
	var found int
	for _, rec := range res.Normalized {
		if rec.RecordKey == "L1-007" {
			found++
			if rec.Fields[FieldTitle] != "from chunk 2" {
				t.Errorf("expected chunk 2 content to win, got %v", rec.Fields[FieldTitle])
			}
		}
	}
	if found != 1 {
		t.Errorf("expected exactly one L1-007, got %d", found)
	}
}

func TestAggregate_KeylessRecordsStaySeparate(t *testing.T) {
	res := Aggregate([]ChunkResult{{Records: []NormalizedRecord{
		{Seq: 2, Fields: map[string]any{FieldTitle: "b"}},
		{Seq: 1, Fields: map[string]any{FieldTitle: "a"}},
	}}})

	if len(res.Records) != 2 {
		t.Fatalf("expected keyless records kept apart, got %d", len(res.Records))
	}
	if res.Records[0].Fields[FieldTitle] != "a" {
		t.Errorf("expected seq order, got %v first", res.Records[0].Fields[FieldTitle])
	}
	keys := map[string]bool{}
	for _, rec := range res.Normalized {
		if !strings.HasPrefix(rec.RecordKey, "no-key-") {
			t.Errorf("unexpected placeholder key %q", rec.RecordKey)
		}
		keys[rec.RecordKey] = true
	}
	if len(keys) != 2 {
		t.Errorf("placeholder keys collide: %v", keys)
	}
}

func TestAggregate_SinkShapeIsFieldsOnly(t *testing.T) {
	cr := Normalize(mustParse(t, `{"records": [{"record_key": "k", "confidence": 0.9, "evidence": [{"quote": "q"}]}]}`), testMeta(), DefaultOptions(), 1, 0, 10)
	res := Aggregate([]ChunkResult{cr})

	b, err := json.Marshal(map[string]any{"records": res.Records})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leaked := range []string{"record_key", "confidence", "evidence", "quote"} {
		if strings.Contains(string(b), leaked) {
			t.Errorf("sink payload contains %q: %s", leaked, b)
		}
	}
	if res.Normalized[0].Confidence != 0.9 || len(res.Normalized[0].Evidence) != 1 {
		t.Errorf("normalized record lost bookkeeping: %+v", res.Normalized[0])
	}
}

func TestAggregate_NoResults(t *testing.T) {
	res := Aggregate(nil)
	if res.Records == nil || res.Warnings == nil {
		t.Fatal("expected non-nil records and warnings")
	}
	for _, c := range Categories {
		if n, ok := res.TypeCounts[c]; !ok || n != 0 {
			t.Errorf("type count %s = %d (present %v)", c, n, ok)
		}
	}
}

func TestEmpty(t *testing.T) {
	res := Empty("L9")

	if res.LessonID != "L9" {
		t.Errorf("lesson id = %q", res.LessonID)
	}
	if res.Records == nil || len(res.Records) != 0 {
		t.Errorf("expected empty non-nil records, got %v", res.Records)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "AI analysis failed" {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if len(res.TypeCounts) != len(Categories) {
		t.Errorf("expected %d type counts, got %d", len(Categories), len(res.TypeCounts))
	}
	if !res.Failed() {
		t.Error("expected Failed() to report the fallback")
	}

	b, _ := json.Marshal(res)
	if !strings.Contains(string(b), `"records":[]`) {
		t.Errorf("expected records to marshal as [], got %s", b)
	}
}
