package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vsavkov/patchloop/internal/config"
	"github.com/vsavkov/patchloop/internal/llm"
	"github.com/vsavkov/patchloop/internal/modeladapter"
	"github.com/vsavkov/patchloop/internal/orchestrator"
	"github.com/vsavkov/patchloop/internal/policy"
	"github.com/vsavkov/patchloop/internal/sandbox"
)

func runCmd(args []string) {
	var repo, goal, configPath, traceDir string
	var constraints []string
	var maxRetries, maxTokens int
	var maxDuration time.Duration
	var verbose bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--repo":
			repo = flagValue(args, &i)
		case "--goal":
			goal = flagValue(args, &i)
		case "--config":
			configPath = flagValue(args, &i)
		case "--constraint":
			constraints = append(constraints, flagValue(args, &i))
		case "--max-retries":
			n, err := strconv.Atoi(flagValue(args, &i))
			if err != nil || n < 0 {
				fatal("--max-retries must be a non-negative integer")
			}
			maxRetries = n
		case "--max-tokens":
			n, err := strconv.Atoi(flagValue(args, &i))
			if err != nil || n <= 0 {
				fatal("--max-tokens must be a positive integer")
			}
			maxTokens = n
		case "--max-duration":
			d, err := time.ParseDuration(flagValue(args, &i))
			if err != nil || d <= 0 {
				fatal("--max-duration must be a positive duration like 20m")
			}
			maxDuration = d
		case "--trace-dir":
			traceDir = flagValue(args, &i)
		case "--verbose":
			verbose = true
		default:
			fatal("unknown arg: %s", args[i])
		}
	}
	if repo == "" || goal == "" {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(repo)
	if err != nil {
		fatal("load config: %v", err)
	}
	if configPath != "" {
		if cfg, err = config.LoadFile(configPath); err != nil {
			fatal("load config %s: %v", configPath, err)
		}
	}
	if cfg.APIKey == "" {
		fatal("no API key configured; set PATCHLOOP_API_KEY or the provider's key variable")
	}

	log := newLogger(verbose || cfg.Verbose)
	defer log.Sync()

	polCfg := policy.DefaultConfig()
	if cfg.PolicyFile != "" {
		if polCfg, err = policy.LoadConfig(cfg.PolicyFile); err != nil {
			fatal("load policy %s: %v", cfg.PolicyFile, err)
		}
	}
	pol, err := policy.NewEngine(polCfg)
	if err != nil {
		fatal("policy: %v", err)
	}

	client := llm.NewClient(llm.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	}, log)

	task := orchestrator.NewTask(repo, goal)
	task.Constraints = constraints
	task.Limits = orchestrator.Limits{
		MaxRetries:  cfg.Limits.MaxRetries,
		MaxDuration: cfg.Limits.MaxDuration,
		MaxTokens:   cfg.Limits.MaxTokens,
	}
	if maxRetries > 0 {
		task.Limits.MaxRetries = maxRetries
	}
	if maxDuration > 0 {
		task.Limits.MaxDuration = maxDuration
	}
	if maxTokens > 0 {
		task.Limits.MaxTokens = maxTokens
	}
	if traceDir == "" {
		traceDir = cfg.TraceDir
	}
	if traceDir != "" {
		if err := os.MkdirAll(traceDir, 0o755); err != nil {
			fatal("create trace dir %s: %v", traceDir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep := orchestrator.New(task, orchestrator.Deps{
		Adapter:  modeladapter.New(client, log),
		Sandbox:  sandbox.NewLocal(log),
		Policy:   pol,
		Log:      log,
		TraceDir: traceDir,
	}).Run(ctx)

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		fatal("encode report: %v", err)
	}
	fmt.Println(string(out))
	if rep.Status != "success" {
		os.Exit(2)
	}
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		log, _ := zap.NewDevelopment()
		return log
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	log, _ := cfg.Build()
	return log
}
