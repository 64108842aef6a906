// cmd/ingestctl/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/harbourline/ingest/internal/config"
	"github.com/harbourline/ingest/internal/fetch"
	"github.com/harbourline/ingest/internal/job"
)

const usage = `usage: ingestctl <command> [arguments]

commands:
  run <config.yaml>       run every job defined in the configuration
  validate <config.yaml>  validate the configuration and exit
`

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := newLogger(*verbose)
	defer logger.Sync()

	var err error
	switch args[0] {
	case "run":
		err = runJobs(args[1], logger)
	case "validate":
		err = validateConfig(args[1])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestctl: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

// runJobs executes every job in the config sequentially and prints one
// summary line per job. A failed job does not stop the remaining jobs; the
// exit status reflects whether any failed.
func runJobs(path string, logger *zap.Logger) error {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}
	if len(cfg.Jobs) == 0 {
		return fmt.Errorf("no jobs defined in %s", path)
	}

	ctx := context.Background()
	persistence, err := cfg.Sink.BuildSink(ctx, logger)
	if err != nil {
		return err
	}
	defer persistence.Close()

	fetcher := fetch.NewClient(fetch.ClientConfig{
		Timeout:     cfg.Fetch.Timeout,
		MaxAttempts: cfg.Fetch.MaxAttempts,
		BaseDelay:   cfg.Fetch.BaseDelay,
		RateLimit:   cfg.Fetch.RateLimit,
		RateBurst:   cfg.Fetch.RateBurst,
	}, logger, nil)
	runner := job.NewRunner(fetcher, persistence, logger, nil)

	failed := 0
	for _, params := range cfg.Jobs {
		if params.Timezone == "" {
			params.Timezone = cfg.Timezone
		}
		summary, err := runner.Run(ctx, params)
		if err != nil {
			failed++
		}
		line, _ := json.Marshal(summary)
		fmt.Println(string(line))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(cfg.Jobs))
	}
	return nil
}

func validateConfig(path string) error {
	if _, err := config.LoadFromFile(path); err != nil {
		return err
	}
	fmt.Printf("configuration %s is valid\n", path)
	return nil
}
