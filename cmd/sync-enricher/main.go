package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sync-enricher/remote"
	"sync-enricher/syncer"
)

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var inputGlobs multiFlag
	var errorDir string
	var dbPath string
	var debug bool
	var jobLabel string
	var concurrency int
	var deleteAfterProcess bool
	var timeout time.Duration
	var fetchTimeout time.Duration
	var userAgent string
	var reportAddr string
	var statusAddr string
	var once bool
	var pollInterval time.Duration

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.Var(&inputGlobs, "input-glob", "Input glob(s) for sync batch files. Can be repeated.")
	flag.StringVar(&errorDir, "error-dir", "", "Directory undecodable batch files are moved to (applies to --input-glob).")
	flag.StringVar(&dbPath, "db", "sync.db", "SQLite database path.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.StringVar(&jobLabel, "job", "", "Job label used in logs and run reports.")
	flag.IntVar(&concurrency, "concurrency", 4, "Entries enriched in parallel per batch.")
	flag.BoolVar(&deleteAfterProcess, "delete-after-process", true, "Delete batch files once every entry has been stored.")
	flag.DurationVar(&timeout, "timeout", 0, "Overall timeout for one run (e.g. 30s, 2m).")
	flag.DurationVar(&fetchTimeout, "fetch-timeout", 30*time.Second, "Timeout for one page fetch.")
	flag.StringVar(&userAgent, "user-agent", "", "User-Agent sent when fetching pages.")
	flag.StringVar(&reportAddr, "report-addr", "", "RFC 5424 collector address (tcp) for run reports. Empty disables.")
	flag.StringVar(&statusAddr, "status-addr", "", "Listen address for the status RPC server. Empty disables.")
	flag.BoolVar(&once, "once", true, "Run once and exit (default true for crontab).")
	flag.DurationVar(&pollInterval, "poll-interval", time.Minute, "Polling interval when running with --once=false.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	fileCfg := &syncer.FileConfig{}
	if configPath != "" {
		cfg, err := syncer.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}

	finalDB := fileCfg.Database
	if finalDB == "" || visited["db"] {
		finalDB = dbPath
	}
	finalJob := fileCfg.Job
	if visited["job"] {
		finalJob = jobLabel
	}
	finalDebug := fileCfg.Debug
	if visited["debug"] {
		finalDebug = debug
	}
	finalDelete := true
	if fileCfg.DeleteAfterProcess != nil {
		finalDelete = *fileCfg.DeleteAfterProcess
	}
	if visited["delete-after-process"] {
		finalDelete = deleteAfterProcess
	}
	finalConcurrency := fileCfg.Concurrency
	if finalConcurrency == 0 || visited["concurrency"] {
		finalConcurrency = concurrency
	}
	finalTimeout := fileCfg.Timeout
	if visited["timeout"] {
		finalTimeout = timeout
	}
	finalFetchTimeout := fileCfg.Fetch.Timeout
	if finalFetchTimeout == 0 || visited["fetch-timeout"] {
		finalFetchTimeout = fetchTimeout
	}
	finalUserAgent := fileCfg.Fetch.UserAgent
	if visited["user-agent"] {
		finalUserAgent = userAgent
	}
	finalReport := fileCfg.ReportAddr
	if visited["report-addr"] {
		finalReport = reportAddr
	}
	finalStatus := fileCfg.StatusAddr
	if visited["status-addr"] {
		finalStatus = statusAddr
	}
	finalPoll := fileCfg.PollInterval
	if finalPoll <= 0 || visited["poll-interval"] {
		finalPoll = pollInterval
	}

	var finalInputs []syncer.InputSpec
	if visited["input-glob"] {
		for _, g := range inputGlobs {
			finalInputs = append(finalInputs, syncer.InputSpec{Source: "cli", Glob: g, ErrorDir: errorDir})
		}
	} else {
		for _, in := range fileCfg.Inputs.Items {
			finalInputs = append(finalInputs, syncer.InputSpec{Source: in.Source, Glob: in.Glob, ErrorDir: in.ErrorDir})
		}
	}

	if len(finalInputs) == 0 {
		fmt.Fprintln(os.Stderr, "missing inputs (use config.yaml inputs or --input-glob)")
		os.Exit(2)
	}
	if strings.TrimSpace(finalJob) == "" {
		fmt.Fprintln(os.Stderr, "missing job label (use --job or config.yaml job)")
		os.Exit(2)
	}

	runner, err := syncer.NewRunner(syncer.RunnerConfig{
		DBPath:             finalDB,
		JobLabel:           finalJob,
		Debug:              finalDebug,
		Inputs:             finalInputs,
		Concurrency:        finalConcurrency,
		DeleteAfterProcess: finalDelete,
		Timeout:            finalTimeout,
		Automatic:          !once,
		PollInterval:       finalPoll,
		Fetch: syncer.HTTPFetcherConfig{
			Timeout:   finalFetchTimeout,
			MaxBytes:  fileCfg.Fetch.MaxBytes,
			UserAgent: finalUserAgent,
		},
		Backlog: syncer.BacklogOptions{
			BaseDelay:   fileCfg.Backlog.BaseDelay,
			MaxDelay:    fileCfg.Backlog.MaxDelay,
			MaxAttempts: fileCfg.Backlog.MaxAttempts,
		},
		BacklogBatchSize: fileCfg.Backlog.BatchSize,
		ReportAddr:       finalReport,
	})
	if err != nil {
		log.Fatalf("init runner: %v", err)
	}

	// The status server is unmounted inside serve, before the database is closed.
	code := serve(runner, finalStatus, once, finalPoll)
	if err := runner.Close(); err != nil {
		log.Printf("close runner: %v", err)
	}
	os.Exit(code)
}

func serve(runner *syncer.Runner, statusAddr string, once bool, poll time.Duration) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(statusAddr) != "" {
		reg := remote.NewRegistry()
		remote.RegisterStatusAPI(reg, syncer.NewStatusService(runner))
		mounted, err := remote.Mount(statusAddr, reg.Handler())
		if err != nil {
			log.Printf("mount status server: %v", err)
			return 1
		}
		log.Printf("status server listening on %s", mounted.Addr())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mounted.Unmount(sctx); err != nil {
				log.Printf("unmount status server: %v", err)
			}
		}()
	}

	if once {
		if err := runner.RunOnce(ctx); err != nil {
			log.Printf("run once: %v", err)
			return 1
		}
		return 0
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if err := runner.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("run once error: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("shutting down")
			return 0
		case <-ticker.C:
		}
	}
}
