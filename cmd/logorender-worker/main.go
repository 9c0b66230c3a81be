package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"logorender/internal/config"
	"logorender/internal/infra/logging"
	"logorender/internal/infra/telemetry"
	"logorender/internal/job"
	"logorender/internal/serverless"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

// run returns the process exit code so deferred cleanup and tracing flushes
// happen before exit.
func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("logorender-worker", flag.ContinueOnError)
	input := fs.String("input", "", "event JSON file to handle once (\"-\" for stdin)")
	poll := fs.Bool("poll", false, "poll the job queue instead of handling one event")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName+"-worker", cfg.Telemetry.Endpoint)
	if err != nil {
		logging.Error("Tracing disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisHost, DB: cfg.Cache.ResultDB})
		defer rdb.Close()
	}

	orch, _, err := job.NewFromConfig(ctx, cfg, rdb)
	if err != nil {
		logging.Error("Failed to initialize render pipeline", "error", err)
		return 1
	}

	if *poll || (*input == "" && cfg.Worker.JobURL != "") {
		poller, err := serverless.NewPoller(cfg.Worker, orch)
		if err != nil {
			logging.Error("Cannot start poller", "error", err)
			return 1
		}
		if err := poller.Run(ctx); err != nil {
			logging.Error("Poller stopped", "error", err)
			return 1
		}
		return 0
	}

	if err := handleOnce(ctx, orch, *input, stdin, stdout); err != nil {
		logging.Error("Cannot handle event", "error", err)
		return 1
	}
	return 0
}

// handleOnce reads one event from path (stdin when empty or "-") and writes
// the result JSON to out.
func handleOnce(ctx context.Context, jobs serverless.Jobs, path string, stdin io.Reader, out io.Writer) error {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}

	var res any
	ev, err := serverless.Decode(data)
	if err != nil {
		res = map[string]string{"error": err.Error()}
	} else {
		res = serverless.Handle(ctx, jobs, ev)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
