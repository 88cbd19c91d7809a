// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sqltrace is the CLI entry point for the SQL-to-source tracing
// agent: given a SQL statement captured from a Rails application, it
// runs the ReAct loop (package react) against the project's source
// tree to locate the scope, finder, or query-builder call that
// generated it.
//
// Usage:
//
//	sqltrace trace --path /path/to/rails/app 'SELECT * FROM users WHERE disabled_at IS NULL'
//	sqltrace repl --path /path/to/rails/app
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sqltracer/sqltracer/internal/anthropicstream"
	"github.com/sqltracer/sqltracer/internal/config"
	"github.com/sqltracer/sqltracer/internal/conversation"
	"github.com/sqltracer/sqltracer/internal/llmadapter"
	"github.com/sqltracer/sqltracer/internal/metrics"
	"github.com/sqltracer/sqltracer/internal/react"
	"github.com/sqltracer/sqltracer/internal/toolregistry"
	"github.com/sqltracer/sqltracer/internal/uicolor"
)

var (
	projectPath string
	noColor     bool
	metricsAddr string
	maxStepsVal = maxStepsFlag{}
)

// maxStepsFlag is a pflag.Value that only overrides config.Config's
// resolved MaxSteps when the flag was actually passed, so the
// env/.sqltrace.yml precedence in package config still applies by
// default (see SQLTRACE_MAX_STEPS in internal/config).
type maxStepsFlag struct {
	set   bool
	value int
}

func (f *maxStepsFlag) String() string {
	if !f.set {
		return ""
	}
	return strconv.Itoa(f.value)
}

func (f *maxStepsFlag) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("max-steps must be a positive integer, got %q", s)
	}
	f.value = n
	f.set = true
	return nil
}

func (f *maxStepsFlag) Type() string { return "int" }

var _ pflag.Value = (*maxStepsFlag)(nil)

// conversationTokenBudget is the estimated-token ceiling (package
// conversation's currency) before old tool results get compressed.
const conversationTokenBudget = 100_000

var rootCmd = &cobra.Command{
	Use:           "sqltrace",
	Short:         "Trace a SQL statement back to the Rails source code that generated it",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var traceCmd = &cobra.Command{
	Use:   "trace [SQL]",
	Short: "Run one tracing query and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), args[0])
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactively trace SQL statements, reloading tools when source files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepl(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectPath, "path", ".", "Root of the Rails project to trace against")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored step trail output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().Var(&maxStepsVal, "max-steps", "Override the ReAct loop's step cap (defaults to config/env)")
	rootCmd.AddCommand(traceCmd, replCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("sqltrace: fatal", "error", err)
		os.Exit(1)
	}
}

// session bundles the long-lived dependencies one CLI invocation needs:
// config, tracing, metrics, the tool registry, and the LLM transport.
type session struct {
	cfg      config.Config
	registry *toolregistry.Registry
	adapter  *llmadapter.Adapter
	metrics  *metrics.Metrics
	shutdown func(context.Context) error
}

func newSession(ctx context.Context) (*session, error) {
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, config.NewProjectError(projectPath, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, config.NewProjectError(root, fmt.Errorf("not a directory"))
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if maxStepsVal.set {
		cfg.MaxSteps = maxStepsVal.value
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	uicolor.Init(noColor || !uicolor.DetectTTY(os.Stdout))

	tp, shutdown, err := setupTracing(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqltrace: setting up tracing: %w", err)
	}
	otel.SetTracerProvider(tp)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if metricsAddr != "" {
		serveMetrics(metricsAddr, reg)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, config.NewConfigurationError("ANTHROPIC_API_KEY", fmt.Errorf("environment variable is not set"))
	}
	client := anthropicstream.NewClient(apiKey, cfg.ModelName)
	adapter := llmadapter.New(client.Stream, cfg.ModelName, llmadapter.PricingPerMillion{InputUSD: 3, OutputUSD: 15})

	return &session{
		cfg:      cfg,
		registry: toolregistry.New(root),
		adapter:  adapter,
		metrics:  m,
		shutdown: shutdown,
	}, nil
}

func setupTracing(ctx context.Context) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, tp.Shutdown, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("sqltrace: metrics server failed", "error", err)
		}
	}()
}

const systemPrompt = `You are a code-tracing agent. You are given one SQL statement captured from a
running Rails application and a read-only view of that application's source tree via
tools. Your job is to find the exact Ruby source location (file and line) whose
ActiveRecord scope, finder, or query-builder call generated that SQL.

Work step by step. Each turn, either:
  - think out loud with a line starting "THOUGHT:", then call exactly one tool, or
  - if you have enough evidence, respond with a line starting "ANSWER:" naming the
    file, line, and the method or scope responsible, with your confidence.

Prefer the progressive_search tool first; fall back to search_code and read_file to
confirm a candidate. Use analyze_model/analyze_controller/analyze_routes/
analyze_migrations when you need structural context (associations, routes, schema)
rather than raw text search.`

func runOnce(ctx context.Context, sql string) error {
	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.shutdown(shutdownCtx)
	}()

	return traceQuery(ctx, sess, sql)
}

func traceQuery(ctx context.Context, sess *session, sql string) error {
	requestID := uuid.New().String()
	logger := slog.With("request_id", requestID)

	runCtx, cancel := context.WithTimeout(ctx, sess.cfg.Timeout)
	defer cancel()

	conv := conversation.New(conversationTokenBudget)
	conv.AppendSystem(systemPrompt)
	conv.AppendUser(fmt.Sprintf("Trace this SQL statement to its Rails source:\n\n%s", sql))

	machine := react.New(sess.adapter, conv, sess.registry, react.Options{MaxSteps: sess.cfg.MaxSteps}, sess.metrics)

	logger.Info("sqltrace: starting trace", "sql", sql)
	res, err := machine.Run(runCtx)
	if err != nil {
		logger.Error("sqltrace: run failed", "error", err)
		return err
	}

	for _, step := range res.Steps {
		uicolor.PrintStep(os.Stdout, step)
	}
	fmt.Printf("\n[%d steps, stop reason: %s]\n", res.StepsUsed, res.StopReason)
	return nil
}

func runRepl(ctx context.Context) error {
	sess, err := newSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sess.shutdown(shutdownCtx)
	}()

	root, err := filepath.Abs(projectPath)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sqltrace: starting file watcher: %w", err)
	}
	defer watcher.Close()
	if err := addWatchTree(watcher, root); err != nil {
		slog.Warn("sqltrace: watch setup incomplete, tool cache will not auto-refresh", "error", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					slog.Info("sqltrace: source change detected, refreshing tool registry", "path", ev.Name)
					sess.registry.Refresh(root)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("sqltrace: watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Println("sqltrace repl: enter a SQL statement, or 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		sql := strings.TrimSpace(scanner.Text())
		if sql == "" {
			continue
		}
		if sql == "exit" || sql == "quit" {
			return nil
		}
		if err := traceQuery(ctx, sess, sql); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// addWatchTree registers every directory under root with watcher,
// skipping .git and other dot-directories.
func addWatchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() != "." && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
