package backfill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/history"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/source"
)

const DefaultPause = 3 * time.Second

type Config struct {
	// Key names the source in history, usually the feed URL.
	Key string
	// Pause is the wait between processed items.
	Pause time.Duration
	// MinChars skips documents whose text is shorter than this.
	MinChars int
	Options  extractor.Options
}

type Processor interface {
	Run(ctx context.Context, doc source.Document, opts extractor.Options) (processor.Report, error)
}

type Summary struct {
	Fetched   int
	Skipped   int
	Processed int
	Failed    int
	Records   int
}

// Runner drains a source through the processor, remembering finished
// lessons in history so a rerun resumes where the last one stopped.
type Runner struct {
	cfg     Config
	src     source.Source
	proc    Processor
	history *history.History
	logger  *slog.Logger
}

func NewRunner(cfg Config, src source.Source, proc Processor, h *history.History, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, src: src, proc: proc, history: h, logger: logger}
}

func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	docs, err := r.src.Fetch(ctx)
	if err != nil {
		return sum, fmt.Errorf("fetch documents: %w", err)
	}
	sum.Fetched = len(docs)
	r.logger.Info("documents fetched", "count", len(docs), "source", r.cfg.Key)

	if len(docs) > 0 && r.cfg.Key != "" {
		r.history.SetLastItem(r.cfg.Key, docs[0].Meta.LessonID)
	}

	first := true
	for _, doc := range docs {
		id := doc.Meta.LessonID
		if r.history.IsProcessed(id) {
			r.logger.Debug("skipping processed lesson", "lesson_id", id)
			sum.Skipped++
			continue
		}
		if len([]rune(strings.TrimSpace(doc.Transcript))) < r.cfg.MinChars {
			r.logger.Info("skipping short document", "lesson_id", id, "title", doc.Title)
			sum.Skipped++
			continue
		}

		if !first && r.cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				r.logger.Info("backfill interrupted, saving history")
				return sum, r.save(ctx.Err())
			case <-time.After(r.cfg.Pause):
			}
		}
		first = false

		r.logger.Info("processing document", "lesson_id", id, "title", doc.Title)

		report, err := r.proc.Run(ctx, doc, r.cfg.Options)
		if err != nil {
			r.logger.Info("backfill interrupted, saving history", "lesson_id", id)
			return sum, r.save(err)
		}

		switch {
		case report.Result.Failed():
			sum.Failed++
			r.history.AddError(fmt.Sprintf("%s: analysis failed", id))
		case !report.OK():
			sum.Failed++
			for sink, msg := range report.SinkErrors {
				r.history.AddError(fmt.Sprintf("%s: %s: %s", id, sink, msg))
			}
		default:
			sum.Processed++
			sum.Records += len(report.Result.Records)
			r.history.MarkProcessed(id, doc.Title, len(report.Result.Records))
		}

		if err := r.history.Save(); err != nil {
			r.logger.Warn("failed to save history", "error", err)
		}
	}

	r.logger.Info("backfill complete",
		"fetched", sum.Fetched,
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"records", sum.Records,
	)
	return sum, r.save(nil)
}

// save persists history and returns cause, or the save error when there
// is no cause.
func (r *Runner) save(cause error) error {
	if err := r.history.Save(); err != nil {
		if cause != nil {
			return cause
		}
		return fmt.Errorf("save history: %w", err)
	}
	return cause
}

// WriteSummary prints the end-of-run report for the CLI.
func WriteSummary(w io.Writer, s Summary, historyPath string) {
	fmt.Fprintf(w, "\n=== Feed Summary ===\n")
	fmt.Fprintf(w, "Items fetched: %d\n", s.Fetched)
	fmt.Fprintf(w, "Processed: %d\n", s.Processed)
	fmt.Fprintf(w, "Skipped: %d\n", s.Skipped)
	fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	fmt.Fprintf(w, "Records: %d\n", s.Records)
	fmt.Fprintf(w, "History file: %s\n", historyPath)
}
