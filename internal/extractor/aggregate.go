package extractor

import (
	"fmt"
	"sort"
)

// Aggregate merges chunk results in chunk order. Records sharing a key keep
// the last one seen; the output is ordered by sequence number regardless of
// chunk or map order. LessonID and Chunks are left for the caller to set.
func Aggregate(results []ChunkResult) Result {
	res := Result{
		Records:    []SinkRecord{},
		Normalized: []NormalizedRecord{},
		TypeCounts: zeroCounts(),
		Warnings:   []string{},
	}

	byKey := make(map[string]NormalizedRecord)
	missing := 0
	for _, cr := range results {
		for _, rec := range cr.Records {
			if rec.RecordKey == "" {
				missing++
				rec.RecordKey = fmt.Sprintf("no-key-%d", missing)
			}
			byKey[rec.RecordKey] = rec
		}
		res.Warnings = append(res.Warnings, cr.Warnings...)
	}

	for _, rec := range byKey {
		res.Normalized = append(res.Normalized, rec)
	}
	sort.SliceStable(res.Normalized, func(i, j int) bool {
		a, b := res.Normalized[i], res.Normalized[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.RecordKey < b.RecordKey
	})

	for _, rec := range res.Normalized {
		res.Records = append(res.Records, SinkRecord{Fields: rec.Fields})
		res.TypeCounts[stringOf(rec.Fields[FieldType])]++
	}
	return res
}

func zeroCounts() map[string]int {
	counts := make(map[string]int, len(Categories))
	for _, c := range Categories {
		counts[c] = 0
	}
	return counts
}
