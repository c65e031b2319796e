package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/scribe/internal/app"
	"github.com/MikeSquared-Agency/scribe/internal/config"
)

const usage = `usage: scribe [command] [flags]

commands:
  serve     run the API server and NATS consumer (default)
  extract   extract one transcript file and print the result
  feed      extract new items of an RSS/Atom feed
`

func main() {
	cfg := config.Load()
	app.SetupLogging(cfg.LogLevel)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx, cfg)
	case "extract":
		err = extract(ctx, cfg, args)
	case "feed":
		err = feed(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("scribe failed", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}
