package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const defaultCallTimeout = 120 * time.Second

// LLM is the opaque analyzer. It receives a system prompt and the rendered
// request and returns free-form text expected to contain a JSON object.
type LLM interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// LLMFunc adapts a function to the LLM interface.
type LLMFunc func(ctx context.Context, system, prompt string) (string, error)

func (f LLMFunc) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

type Extractor struct {
	llm         LLM
	logger      *slog.Logger
	maxChars    int
	concurrency int
	callTimeout time.Duration
}

type Option func(*Extractor)

// WithMaxChars overrides the chunk size.
func WithMaxChars(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxChars = n
		}
	}
}

// WithConcurrency analyzes up to n chunks at once. Sequence numbers are
// still assigned in chunk order after all replies are in.
func WithConcurrency(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCallTimeout bounds each analyzer call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// New builds an extractor. A nil llm means analysis is not configured and
// every run returns the empty fallback.
func New(llm LLM, logger *slog.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		llm:         llm,
		logger:      logger,
		maxChars:    DefaultMaxChars,
		concurrency: 1,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configured reports whether an analyzer is wired.
func (e *Extractor) Configured() bool {
	return e.llm != nil
}

// Invoke sends one chunk to the analyzer and parses the reply. Failures come
// back as *AnalyzerError.
func (e *Extractor) Invoke(ctx context.Context, c Chunk, meta LessonMeta, opts Options, seqStart int) (any, error) {
	if e.llm == nil {
		return nil, ErrNotConfigured
	}

	prompt, err := BuildRequest(c, meta, opts, seqStart).Prompt()
	if err != nil {
		return nil, &AnalyzerError{Chunk: c.Index, Total: c.Total, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	reply, err := e.llm.Generate(callCtx, systemPrompt, prompt)
	if err != nil {
		return nil, &AnalyzerError{Chunk: c.Index, Total: c.Total, Err: fmt.Errorf("analyzer call: %w", err)}
	}

	raw, err := ParseReply(reply)
	if err != nil {
		e.logger.Debug("unparseable analyzer reply", "chunk", c.Index, "reply", preview(reply, 500))
		return nil, &AnalyzerError{Chunk: c.Index, Total: c.Total, Err: err}
	}
	return raw, nil
}

// Extract runs the whole pipeline over one transcript. The returned Result is
// always well-formed. The error is non-nil only when ctx was cancelled, in
// which case the Result holds the chunks finished before cancellation.
func (e *Extractor) Extract(ctx context.Context, transcript string, meta LessonMeta, opts Options) (Result, error) {
	if e.llm == nil {
		e.logger.Warn("analyzer not configured, returning empty result", "lesson_id", meta.LessonID)
		return Empty(meta.LessonID), nil
	}

	chunks := Split(transcript, e.maxChars)

	e.logger.Info("extracting lesson",
		"lesson_id", meta.LessonID,
		"transcript_chars", utf8.RuneCountInString(transcript),
		"chunks", len(chunks),
		"concurrency", e.concurrency,
	)

	r := &run{meta: meta, opts: opts, seq: 1, logger: e.logger}
	if e.concurrency > 1 && len(chunks) > 1 {
		e.extractConcurrent(ctx, r, chunks)
	} else {
		e.extractSequential(ctx, r, chunks)
	}

	if err := ctx.Err(); err != nil {
		res := r.result(len(chunks))
		res.Warnings = append(res.Warnings, fmt.Sprintf("extraction cancelled after %d of %d chunks", r.done, len(chunks)))
		e.logger.Warn("extraction cancelled",
			"lesson_id", meta.LessonID,
			"chunks_done", r.done,
			"records", len(res.Records),
		)
		return res, err
	}

	if r.analyzed > 0 && r.failed == r.analyzed {
		e.logger.Error("analysis failed for every chunk", "lesson_id", meta.LessonID, "chunks", len(chunks))
		res := Empty(meta.LessonID)
		res.Chunks = len(chunks)
		return res, nil
	}

	res := r.result(len(chunks))
	e.logger.Info("extraction complete",
		"lesson_id", meta.LessonID,
		"records", len(res.Records),
		"warnings", len(res.Warnings),
		"failed_chunks", r.failed,
	)
	return res, nil
}

func (e *Extractor) extractSequential(ctx context.Context, r *run, chunks []Chunk) {
	for _, c := range chunks {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if blank(c) {
			r.skip(c)
			continue
		}

		raw, err := e.Invoke(ctx, c, r.meta, r.opts, r.seq)
		if err != nil && ctx.Err() != nil {
			return
		}
		r.add(c, raw, err)
	}
}

type reply struct {
	raw  any
	err  error
	done bool
}

// extractConcurrent fans the analyzer calls out, then folds the replies in
// chunk order so numbering matches a sequential run.
func (e *Extractor) extractConcurrent(ctx context.Context, r *run, chunks []Chunk) {
	replies := make([]reply, len(chunks))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, c := range chunks {
		if blank(c) {
			continue
		}
		i, c := i, c
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			raw, err := e.Invoke(ctx, c, r.meta, r.opts, 0)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			replies[i] = reply{raw: raw, err: err, done: true}
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range chunks {
		switch {
		case blank(c):
			r.skip(c)
		case replies[i].done:
			r.add(c, replies[i].raw, replies[i].err)
		}
	}
}

func blank(c Chunk) bool {
	return strings.TrimSpace(c.Text) == ""
}

// run threads the running sequence and accumulated chunk results.
type run struct {
	meta     LessonMeta
	opts     Options
	seq      int
	results  []ChunkResult
	done     int
	analyzed int
	failed   int
	logger   *slog.Logger
}

func (r *run) skip(c Chunk) {
	r.done++
	r.logger.Debug("skipping blank chunk", "lesson_id", r.meta.LessonID, "chunk", c.Index)
}

func (r *run) add(c Chunk, raw any, err error) {
	r.done++
	r.analyzed++
	if err != nil {
		r.failed++
		r.logger.Warn("chunk analysis failed",
			"lesson_id", r.meta.LessonID,
			"chunk", c.Index,
			"total", c.Total,
			"error", err,
		)
		r.results = append(r.results, ChunkResult{Warnings: []string{err.Error()}, NextSeq: r.seq})
		return
	}

	cr := Normalize(raw, r.meta, r.opts, r.seq, c.StartOffset, c.Len())
	r.logger.Debug("chunk normalized",
		"lesson_id", r.meta.LessonID,
		"chunk", c.Index,
		"records", len(cr.Records),
		"seq_start", r.seq,
	)
	r.seq = cr.NextSeq
	r.results = append(r.results, cr)
}

func (r *run) result(chunks int) Result {
	res := Aggregate(r.results)
	res.LessonID = r.meta.LessonID
	res.Chunks = chunks
	return res
}
