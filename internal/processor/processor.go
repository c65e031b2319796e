package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/slack"
	"github.com/MikeSquared-Agency/scribe/internal/source"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

const maxPageBytes = 10 << 20

type Extractor interface {
	Extract(ctx context.Context, transcript string, meta extractor.LessonMeta, opts extractor.Options) (extractor.Result, error)
}

// Sink receives the final field-maps of a run.
type Sink interface {
	Name() string
	Push(ctx context.Context, lessonID string, records []extractor.SinkRecord) (int, error)
}

type RunStore interface {
	SaveRun(ctx context.Context, run store.Run) (uuid.UUID, error)
}

type Notifier interface {
	PostRunSummary(ctx context.Context, s slack.RunSummary) (string, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Processor runs one document through extraction and then hands the
// result to every configured downstream.
type Processor struct {
	extractor Extractor
	sinks     []Sink
	store     RunStore
	notifier  Notifier
	bus       Publisher
	client    *http.Client
	dryRun    bool
	logger    *slog.Logger
}

type Option func(*Processor)

func WithSinks(sinks ...Sink) Option {
	return func(p *Processor) { p.sinks = append(p.sinks, sinks...) }
}

func WithStore(s RunStore) Option {
	return func(p *Processor) { p.store = s }
}

func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

func WithPublisher(b Publisher) Option {
	return func(p *Processor) { p.bus = b }
}

// WithDryRun skips the sinks. Runs are still persisted and announced.
func WithDryRun(dry bool) Option {
	return func(p *Processor) { p.dryRun = dry }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Processor) { p.client = c }
}

func New(ext Extractor, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		extractor: ext,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type Report struct {
	RunID      string            `json:"run_id,omitempty"`
	Result     extractor.Result  `json:"result"`
	Pushed     map[string]int    `json:"pushed"`
	SinkErrors map[string]string `json:"sink_errors,omitempty"`
}

// OK reports whether every sink accepted the records.
func (r Report) OK() bool {
	return len(r.SinkErrors) == 0
}

// Run extracts doc and fans the result out. Downstream failures are
// logged and recorded in the report; the only error returned is the
// extraction being cancelled, in which case nothing is pushed.
func (p *Processor) Run(ctx context.Context, doc source.Document, opts extractor.Options) (Report, error) {
	meta := doc.Meta
	res, err := p.extractor.Extract(ctx, doc.Transcript, meta, opts)
	report := Report{Result: res, Pushed: map[string]int{}}
	if err != nil {
		return report, fmt.Errorf("extract %s: %w", meta.LessonID, err)
	}

	p.logger.Info("extraction finished",
		"lesson_id", meta.LessonID,
		"chunks", res.Chunks,
		"records", len(res.Records),
		"warnings", len(res.Warnings),
	)

	if len(res.Records) > 0 && !p.dryRun {
		p.push(ctx, meta.LessonID, res.Records, &report)
	}

	if p.store != nil {
		runID, err := p.store.SaveRun(ctx, store.RunFromResult(meta, res))
		if err != nil {
			p.logger.Error("persist run failed", "lesson_id", meta.LessonID, "error", err)
		} else {
			report.RunID = runID.String()
		}
	}

	if p.notifier != nil {
		_, err := p.notifier.PostRunSummary(ctx, slack.RunSummary{
			LessonID:   meta.LessonID,
			Source:     meta.Source,
			Link:       meta.Link,
			RunID:      report.RunID,
			Records:    len(res.Records),
			TypeCounts: res.TypeCounts,
			Warnings:   res.Warnings,
			Pushed:     report.Pushed,
		})
		if err != nil {
			p.logger.Error("slack post failed", "lesson_id", meta.LessonID, "error", err)
		}
	}

	if p.bus != nil {
		err := p.bus.Publish(hermes.SubjectExtractionCompleted, hermes.ExtractionCompleted{
			LessonID:   meta.LessonID,
			RunID:      report.RunID,
			Records:    len(res.Records),
			TypeCounts: res.TypeCounts,
			Warnings:   res.Warnings,
			Pushed:     report.Pushed,
		})
		if err != nil {
			p.logger.Error("publish completion failed", "lesson_id", meta.LessonID, "error", err)
		}
	}

	return report, nil
}

func (p *Processor) push(ctx context.Context, lessonID string, records []extractor.SinkRecord, report *Report) {
	for _, sink := range p.sinks {
		n, err := sink.Push(ctx, lessonID, records)
		report.Pushed[sink.Name()] = n
		if err != nil {
			if report.SinkErrors == nil {
				report.SinkErrors = map[string]string{}
			}
			report.SinkErrors[sink.Name()] = err.Error()
			p.logger.Error("sink push failed", "sink", sink.Name(), "lesson_id", lessonID, "pushed", n, "error", err)
			continue
		}
		p.logger.Info("pushed records", "sink", sink.Name(), "lesson_id", lessonID, "count", n)
	}
}

// HandleTranscriptReady is the NATS handler for swarm.scribe.transcript.ready.
func (p *Processor) HandleTranscriptReady(subject string, data []byte) {
	ctx := context.Background()

	var evt hermes.TranscriptEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse transcript event", "error", err)
		return
	}
	if evt.LessonMeta.LessonID == "" {
		p.logger.Error("transcript event without lesson_id", "subject", subject)
		return
	}

	opts, err := extractor.DecodeOptions(evt.Options)
	if err != nil {
		p.logger.Error("invalid options in transcript event", "lesson_id", evt.LessonMeta.LessonID, "error", err)
		return
	}

	meta := evt.LessonMeta
	if meta.Link == "" {
		meta.Link = evt.URL
	}

	p.logger.Info("processing transcript", "lesson_id", meta.LessonID, "source", meta.Source)

	transcript, err := p.fetchTranscript(ctx, evt)
	if err != nil {
		p.logger.Error("failed to fetch transcript", "lesson_id", meta.LessonID, "error", err)
		return
	}

	report, err := p.Run(ctx, source.Document{Meta: meta, Transcript: transcript}, opts)
	if err != nil {
		p.logger.Error("processing failed", "lesson_id", meta.LessonID, "error", err)
		return
	}
	if !report.OK() {
		p.logger.Warn("some sinks failed", "lesson_id", meta.LessonID, "errors", report.SinkErrors)
	}
}

// fetchTranscript prefers the transcript embedded in the event and falls
// back to downloading the page at the event URL.
func (p *Processor) fetchTranscript(ctx context.Context, evt hermes.TranscriptEvent) (string, error) {
	if evt.Transcript != "" {
		return evt.Transcript, nil
	}
	if evt.URL == "" {
		return "", fmt.Errorf("no transcript in event payload and no url for lesson %s", evt.LessonMeta.LessonID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, evt.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build page request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned %d for lesson %s", resp.StatusCode, evt.LessonMeta.LessonID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	text, err := source.HTMLText(string(body))
	if err != nil {
		return "", fmt.Errorf("extract page text: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("page for lesson %s has no text", evt.LessonMeta.LessonID)
	}
	return text, nil
}
