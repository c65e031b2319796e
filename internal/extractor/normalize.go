package extractor

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

const malformedRecordsWarning = "malformed records structure, ignored"

// bookkeeping keys never belong in the sink field map.
var bookkeeping = []string{"record_key", "confidence", "evidence"}

// Normalize turns one chunk's raw analyzer response into normalized records.
// Records are numbered from seqStart in the order the analyzer returned them.
// Evidence offsets below chunkLen are treated as chunk-local and shifted by
// chunkStart. Malformed input yields warnings, never an error.
func Normalize(raw any, meta LessonMeta, opts Options, seqStart, chunkStart, chunkLen int) ChunkResult {
	if seqStart < 1 {
		seqStart = 1
	}
	res := ChunkResult{NextSeq: seqStart}

	resp, isMap := raw.(map[string]any)
	items, isList := resp["records"].([]any)
	if !isMap || !isList {
		res.Warnings = append(res.Warnings, malformedRecordsWarning)
	}

	seq := seqStart
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("record %d is not an object, ignored", i+1))
			continue
		}

		fields := fieldsOf(rec)
		applyDefaults(fields, meta, opts)
		collapseLink(fields)
		fields[FieldSeq] = seq

		key := strings.TrimSpace(stringOf(rec["record_key"]))
		if key == "" {
			key = fmt.Sprintf("%s-%03d", meta.LessonID, seq)
		}

		res.Records = append(res.Records, NormalizedRecord{
			RecordKey:  key,
			Seq:        seq,
			Fields:     fields,
			Confidence: confidenceOf(rec["confidence"]),
			Evidence:   rebaseEvidence(rec["evidence"], chunkStart, chunkLen),
		})
		seq++
	}

	if warnings, ok := resp["warnings"].([]any); ok {
		for _, w := range warnings {
			res.Warnings = append(res.Warnings, warningText(w))
		}
	}

	res.NextSeq = seq
	return res
}

// fieldsOf copies the record's field map so the raw response is never mutated.
func fieldsOf(rec map[string]any) map[string]any {
	src, _ := rec["fields"].(map[string]any)
	fields := make(map[string]any, len(src)+len(textFields)+6)
	for k, v := range src {
		fields[k] = v
	}
	for _, k := range bookkeeping {
		delete(fields, k)
	}
	return fields
}

func applyDefaults(fields map[string]any, meta LessonMeta, opts Options) {
	setIfMissing(fields, FieldLessonID, meta.LessonID)
	setIfMissing(fields, FieldType, DefaultType)
	setIfMissing(fields, FieldMasteryState, opts.masteryState())
	setIfMissing(fields, FieldMasteryScore, opts.masteryScore())
	setIfMissing(fields, FieldSource, meta.Source)
	if meta.Link != "" {
		setIfMissing(fields, FieldLink, map[string]any{"text": LinkLabel, "link": meta.Link})
	}

	for _, k := range textFields {
		switch v := fields[k].(type) {
		case nil:
			fields[k] = ""
		case []any:
			fields[k] = joinList(v)
		}
	}
}

func setIfMissing(fields map[string]any, key string, value any) {
	if v, ok := fields[key]; !ok || v == nil || v == "" {
		fields[key] = value
	}
}

// collapseLink narrows a {text, link} or {label, url} pair to the bare URL.
func collapseLink(fields map[string]any) {
	pair, ok := fields[FieldLink].(map[string]any)
	if !ok {
		return
	}
	url := stringOf(pair["link"])
	if url == "" {
		url = stringOf(pair["url"])
	}
	if url == "" {
		delete(fields, FieldLink)
		return
	}
	fields[FieldLink] = url
}

func confidenceOf(v any) float64 {
	f, ok := FloatValue(v)
	if !ok || math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

// rebaseEvidence decides per entry on start_char (or end_char when start is
// missing) so a span is always shifted as a whole.
func rebaseEvidence(v any, chunkStart, chunkLen int) []Evidence {
	entries, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]Evidence, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		ev := Evidence{Quote: stringOf(m["quote"])}
		start, hasStart := IntValue(m["start_char"])
		end, hasEnd := IntValue(m["end_char"])

		shift := false
		switch {
		case hasStart:
			shift = start < chunkLen
		case hasEnd:
			shift = end < chunkLen
		}
		if shift {
			start += chunkStart
			end += chunkStart
		}
		if hasStart {
			ev.StartChar = &start
		}
		if hasEnd {
			ev.EndChar = &end
		}
		out = append(out, ev)
	}
	return out
}

// IntValue reports v as an int when it is an integral number.
func IntValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int(f), true
		}
	}
	return 0, false
}

// FloatValue reports v as a float64 when it is numeric.
func FloatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func joinList(items []any) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(stringOf(it)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func warningText(w any) string {
	if s, ok := w.(string); ok {
		return s
	}
	b, err := json.Marshal(w)
	if err != nil {
		return fmt.Sprint(w)
	}
	return string(b)
}
