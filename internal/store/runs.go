package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
)

// Run is one extraction of one lesson, as persisted.
type Run struct {
	LessonID   string
	Source     string
	Link       string
	Chunks     int
	TypeCounts map[string]int
	Warnings   []string
	Records    []extractor.NormalizedRecord
}

// RunFromResult pairs a pipeline result with the lesson it came from.
func RunFromResult(meta extractor.LessonMeta, res extractor.Result) Run {
	return Run{
		LessonID:   res.LessonID,
		Source:     meta.Source,
		Link:       meta.Link,
		Chunks:     res.Chunks,
		TypeCounts: res.TypeCounts,
		Warnings:   res.Warnings,
		Records:    res.Normalized,
	}
}

type RunRow struct {
	ID          uuid.UUID      `json:"id"`
	LessonID    string         `json:"lesson_id"`
	Source      string         `json:"source"`
	Link        string         `json:"link"`
	Chunks      int            `json:"chunks"`
	TypeCounts  map[string]int `json:"type_counts"`
	Warnings    []string       `json:"warnings"`
	RecordCount int            `json:"record_count"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SaveRun writes the run and every record in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) (uuid.UUID, error) {
	counts, err := json.Marshal(run.TypeCounts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal type counts: %w", err)
	}
	warnings := run.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	runID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO extraction_runs (id, lesson_id, source, link, chunks, type_counts, warnings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		runID, run.LessonID, run.Source, run.Link, run.Chunks, counts, warnings,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	for _, rec := range run.Records {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return uuid.Nil, fmt.Errorf("marshal fields of %s: %w", rec.RecordKey, err)
		}
		evidence, err := json.Marshal(evidenceOrEmpty(rec.Evidence))
		if err != nil {
			return uuid.Nil, fmt.Errorf("marshal evidence of %s: %w", rec.RecordKey, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO learning_records (id, run_id, record_key, seq, fields, confidence, evidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), runID, rec.RecordKey, rec.Seq, fields, rec.Confidence, evidence,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert record %s: %w", rec.RecordKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return runID, nil
}

// RecentRuns lists the newest runs first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.lesson_id, r.source, r.link, r.chunks, r.type_counts, r.warnings, r.created_at,
		       (SELECT count(*) FROM learning_records lr WHERE lr.run_id = r.id)
		FROM extraction_runs r
		ORDER BY r.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var counts []byte
		if err := rows.Scan(&r.ID, &r.LessonID, &r.Source, &r.Link, &r.Chunks, &counts, &r.Warnings, &r.CreatedAt, &r.RecordCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if err := json.Unmarshal(counts, &r.TypeCounts); err != nil {
			return nil, fmt.Errorf("decode type counts: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunRecords returns the records of one run in 条目序号 order.
func (s *Store) RunRecords(ctx context.Context, runID uuid.UUID) ([]extractor.NormalizedRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record_key, seq, fields, confidence, evidence
		FROM learning_records
		WHERE run_id = $1
		ORDER BY seq, record_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []extractor.NormalizedRecord
	for rows.Next() {
		var rec extractor.NormalizedRecord
		var fields, evidence []byte
		if err := rows.Scan(&rec.RecordKey, &rec.Seq, &fields, &rec.Confidence, &evidence); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", rec.RecordKey, err)
		}
		if err := json.Unmarshal(evidence, &rec.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence of %s: %w", rec.RecordKey, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func evidenceOrEmpty(ev []extractor.Evidence) []extractor.Evidence {
	if ev == nil {
		return []extractor.Evidence{}
	}
	return ev
}
