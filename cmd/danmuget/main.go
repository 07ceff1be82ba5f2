package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"danmuget/internal/api"
	"danmuget/internal/client"
	cfgpkg "danmuget/internal/config"
	"danmuget/internal/domain"
	"danmuget/internal/loader"
	"danmuget/internal/report"
	"danmuget/internal/runner"
	"danmuget/internal/storage"
	"danmuget/internal/writer"
)

// Exit codes: 0 all tasks succeeded or were cleanly skipped, 1 load or
// configuration error, 2 at least one task failed, 130 run cancelled.
const (
	exitOK        = 0
	exitLoadError = 1
	exitFailed    = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return exitLoadError
	}

	// Flags default to the environment-derived values and win when set.
	flag.StringVar(&cfg.Input, "input", cfg.Input, "path to tasks file (.json/.jsonl/.csv/.yaml)")
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "danmu API base URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "optional API token")
	flag.StringVar(&cfg.OutputDir, "output", cfg.OutputDir, "output directory")
	flag.StringVar(&cfg.DefaultFormat, "format", cfg.DefaultFormat, "default output format (json|xml)")
	flag.StringVar(&cfg.NamingRule, "naming-rule", cfg.NamingRule, "output naming rule template")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "worker pool width")
	flag.IntVar(&cfg.Retries, "retries", cfg.Retries, "retry count for transient failures")
	flag.DurationVar(&cfg.RetryDelay, "retry-delay", cfg.RetryDelay, "retry backoff base delay")
	flag.DurationVar(&cfg.Throttle, "throttle", cfg.Throttle, "minimum spacing between task admissions")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	flag.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "status server listen address (empty = off)")
	flag.Parse()

	cfgpkg.SetupLogger(cfg)

	if err := cfg.Finalize(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitLoadError
	}

	tasks, err := loader.Load(cfg.Input)
	if err != nil {
		slog.Error("failed to load tasks", "error", err, "input", cfg.Input)
		return exitLoadError
	}
	if len(tasks) == 0 {
		slog.Info("no tasks to run", "input", cfg.Input)
	}

	apiClient, err := client.New(cfg.BaseURL, cfg.Token, slog.Default())
	if err != nil {
		slog.Error("invalid base URL", "error", err)
		return exitLoadError
	}

	files := storage.NewFileStorage(cfg.OutputDir)
	fileWriter, err := writer.New(files, cfg.NamingRule, slog.Default())
	if err != nil {
		slog.Error("invalid naming rule", "error", err)
		return exitLoadError
	}

	builder := report.NewBuilder(domain.RunConfig{
		APIRoot:       apiClient.APIRoot(),
		OutputDir:     cfg.OutputDir,
		NamingRule:    cfg.NamingRule,
		DefaultFormat: domain.Format(cfg.DefaultFormat),
		Concurrency:   cfg.Concurrency,
		Retries:       cfg.Retries,
		RetryDelayMs:  cfg.RetryDelay.Milliseconds(),
		ThrottleMs:    cfg.Throttle.Milliseconds(),
		TimeoutMs:     cfg.RequestTimeout.Milliseconds(),
	}, len(tasks))

	hub := api.NewHub()
	events := make(chan domain.TaskEvent, 64)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		total := len(tasks)
		for event := range events {
			hub.Publish(event)
			if event.Type == domain.EventDone {
				logProgress(event, total)
			}
		}
	}()

	statusServer := startStatusServer(cfg.StatusAddr, builder, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("run starting",
		"api", apiClient.APIRoot(),
		"input", cfg.Input,
		"output", cfg.OutputDir,
		"tasks", len(tasks),
		"concurrency", cfg.Concurrency)

	opts := runner.Options{
		Concurrency:   cfg.Concurrency,
		Retries:       cfg.Retries,
		RetryDelay:    cfg.RetryDelay,
		Throttle:      cfg.Throttle,
		Timeout:       cfg.RequestTimeout,
		DefaultFormat: domain.Format(cfg.DefaultFormat),
	}
	runner.New(apiClient, fileWriter, builder, opts, events, slog.Default()).Run(ctx, tasks)

	<-progressDone
	hub.Close()

	cancelled := ctx.Err() != nil
	final, err := builder.Finalize(cfg.OutputDir, cancelled)
	if err != nil {
		slog.Error("failed to write report", "error", err)
		return exitLoadError
	}

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = statusServer.Shutdown(shutdownCtx)
	}

	slog.Info("run finished",
		"total", final.Total,
		"succeeded", final.Succeeded,
		"failed", final.Failed,
		"skipped", final.Skipped,
		"cancelled", final.Cancelled)

	switch {
	case cancelled:
		return exitCancelled
	case final.Failed > 0:
		return exitFailed
	}
	return exitOK
}

func logProgress(event domain.TaskEvent, total int) {
	label := event.Name
	if label == "" {
		label = fmt.Sprintf("task-%d", event.SequenceIndex)
	}
	switch event.Status {
	case domain.StatusSucceeded:
		slog.Info(fmt.Sprintf("[%d/%d] OK", event.SequenceIndex, total), "name", label, "output", event.OutputFile)
	case domain.StatusFailed:
		slog.Error(fmt.Sprintf("[%d/%d] FAILED", event.SequenceIndex, total), "name", label, "error", event.Error)
	case domain.StatusSkipped:
		slog.Info(fmt.Sprintf("[%d/%d] skipped", event.SequenceIndex, total), "name", label, "reason", event.Error)
	}
}

func startStatusServer(addr string, builder *report.Builder, hub *api.Hub) *http.Server {
	if addr == "" {
		return nil
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(builder, hub, slog.Default()),
	}
	go func() {
		slog.Info("status server starting", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("status server failed", "error", err)
		}
	}()
	return server
}
