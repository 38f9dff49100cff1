package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codearena/internal/judge/sandbox"
	judgeService "codearena/internal/judge/service"
	"codearena/internal/judge/testdata"
	"codearena/internal/judge/verdict"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const judgeURLEnv = "JUDGE_URL"

type options struct {
	source    string
	language  string
	version   string
	inputs    string
	outputs   string
	timeMs    int64
	memoryMB  int64
	judgeURL  string
	parallel  int
	logLevel  string
	tolerance verdict.Tolerance
}

// judge-local judges one source file against local test case directories.
// It prints the result as JSON and exits 0 only on an accepted verdict.
func main() {
	_ = godotenv.Load()

	opts := parseFlags()
	if err := logger.Init(logger.Config{Level: opts.logLevel, OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(2)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, opts)
	if err != nil {
		logger.Error(ctx, "judge failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "judge failed: %v\n", err)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	if res.Verdict != verdict.Accepted {
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.source, "source", "", "Path to the source file")
	flag.StringVar(&opts.language, "lang", "", "Language, e.g. python or cpp")
	flag.StringVar(&opts.version, "version", "*", "Language version")
	flag.StringVar(&opts.inputs, "inputs", "", "Directory of test case inputs")
	flag.StringVar(&opts.outputs, "outputs", "", "Directory of expected outputs")
	flag.Int64Var(&opts.timeMs, "time", 1000, "Time limit in milliseconds")
	flag.Int64Var(&opts.memoryMB, "memory", 256, "Memory limit in megabytes")
	flag.StringVar(&opts.judgeURL, "judge-url", "", "Sandbox base URL (default $"+judgeURLEnv+")")
	flag.IntVar(&opts.parallel, "parallel", 1, "Cases judged concurrently")
	flag.StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	flag.Int64Var(&opts.tolerance.TimeMs, "time-tolerance", verdict.DefaultTolerance.TimeMs, "Time tolerance in milliseconds")
	flag.Int64Var(&opts.tolerance.MemoryKB, "memory-tolerance", verdict.DefaultTolerance.MemoryKB, "Memory tolerance in kilobytes")
	flag.Parse()

	if opts.judgeURL == "" {
		opts.judgeURL = strings.TrimSpace(os.Getenv(judgeURLEnv))
	}
	if opts.inputs == "" && flag.NArg() > 0 {
		opts.inputs = flag.Arg(0)
	}
	if opts.outputs == "" && flag.NArg() > 1 {
		opts.outputs = flag.Arg(1)
	}
	return opts
}

func run(ctx context.Context, opts options) (*judgeService.JudgeResult, error) {
	switch {
	case opts.source == "":
		return nil, appErr.MissingField("source")
	case opts.language == "":
		return nil, appErr.MissingField("lang")
	case opts.inputs == "" || opts.outputs == "":
		return nil, appErr.MissingField("inputs/outputs")
	case opts.judgeURL == "":
		return nil, fmt.Errorf("sandbox url is required (-judge-url or %s)", judgeURLEnv)
	}

	source, err := os.ReadFile(opts.source)
	if err != nil {
		return nil, fmt.Errorf("read source failed: %w", err)
	}

	client := sandbox.NewClient(sandbox.Config{BaseURL: opts.judgeURL, Timeout: time.Minute})
	svc, err := judgeService.NewService(judgeService.Config{
		Loader:      testdata.FSLoader{},
		Executor:    client,
		Classifier:  verdict.NewClassifier(opts.tolerance),
		Parallelism: opts.parallel,
	})
	if err != nil {
		return nil, err
	}
	return judgeService.JudgeWithRetry(ctx, svc, judgeService.JudgeRequest{
		SubmissionID: "local",
		Source:       string(source),
		Language:     opts.language,
		Version:      opts.version,
		Limits:       verdict.LimitsFromProblem(opts.timeMs, opts.memoryMB),
		InputsRef:    opts.inputs,
		OutputsRef:   opts.outputs,
	}, judgeService.DefaultRetryPolicy)
}
