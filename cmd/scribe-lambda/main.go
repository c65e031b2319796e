package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/MikeSquared-Agency/scribe/internal/app"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/source"
)

type Request struct {
	LessonMeta extractor.LessonMeta `json:"lesson_meta"`
	Transcript string               `json:"transcript"`
	Options    json.RawMessage      `json:"options,omitempty"`
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Message    string            `json:"message,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	Result     *extractor.Result `json:"result,omitempty"`
}

type runner interface {
	Run(ctx context.Context, doc source.Document, opts extractor.Options) (processor.Report, error)
}

type handler struct {
	runner runner
	logger *slog.Logger
}

// Handle answers client mistakes with a 4xx response and a nil error so
// the invoker sees the message instead of a function failure.
func (h *handler) Handle(ctx context.Context, req Request) (Response, error) {
	if req.LessonMeta.LessonID == "" {
		return Response{StatusCode: http.StatusBadRequest, Message: "lesson_meta.lesson_id is required"}, nil
	}
	opts, err := extractor.DecodeOptions(req.Options)
	if err != nil {
		return Response{StatusCode: http.StatusBadRequest, Message: err.Error()}, nil
	}

	h.logger.Info("lambda extraction", "lesson_id", req.LessonMeta.LessonID)

	report, err := h.runner.Run(ctx, source.Document{Meta: req.LessonMeta, Transcript: req.Transcript}, opts)
	res := report.Result
	if err != nil {
		h.logger.Warn("extraction cut short", "lesson_id", req.LessonMeta.LessonID, "error", err)
		return Response{StatusCode: http.StatusGatewayTimeout, Message: err.Error(), Result: &res}, nil
	}

	resp := Response{StatusCode: http.StatusOK, RunID: report.RunID, Result: &res}
	if !report.OK() {
		resp.Message = "some sinks failed"
	}
	return resp, nil
}

func main() {
	cfg := config.Load()
	app.SetupLogging(cfg.LogLevel)

	d, err := app.Build(context.Background(), cfg, app.Want{Store: true, Sinks: true, Slack: true})
	if err != nil {
		slog.Error("failed to initialise", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	h := &handler{runner: d.Processor(), logger: slog.Default()}
	lambda.Start(h.Handle)
}
