package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/MikeSquared-Agency/scribe/internal/app"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/source"
)

func extract(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	file := fs.String("file", "", "transcript file (required)")
	lesson := fs.String("lesson", "", "lesson ID (default: file name)")
	src := fs.String("source", "", "lesson source label")
	link := fs.String("link", "", "original lesson URL")
	optsFile := fs.String("options", "", "JSON file with extraction options")
	push := fs.Bool("push", false, "push records to the configured sinks and persist the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("extract: -file is required")
	}

	var raw []byte
	if *optsFile != "" {
		b, err := os.ReadFile(*optsFile)
		if err != nil {
			return fmt.Errorf("read options: %w", err)
		}
		raw = b
	}
	opts, err := extractor.DecodeOptions(raw)
	if err != nil {
		return err
	}

	docs, err := source.FileSource{
		Path: *file,
		Meta: extractor.LessonMeta{LessonID: *lesson, Source: *src, Link: *link},
	}.Fetch(ctx)
	if err != nil {
		return err
	}
	doc := docs[0]

	d, err := app.Build(ctx, cfg, app.Want{Store: *push, Sinks: *push, Slack: *push})
	if err != nil {
		return err
	}
	defer d.Close()

	var res extractor.Result
	if *push {
		report, runErr := d.Processor().Run(ctx, doc, opts)
		res, err = report.Result, runErr
	} else {
		res, err = d.Extractor().Extract(ctx, doc.Transcript, doc.Meta, opts)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		return fmt.Errorf("write result: %w", encErr)
	}
	return err
}
