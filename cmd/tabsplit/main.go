// Command tabsplit splits large delimited table files into one output file
// per distinct value of the configured routing columns.
//
// Usage:
//
//	tabsplit -config jobs/tatoeba.json [-v] [-progress 5s] [-metrics-backend pushgateway]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabsplit/internal/config"
	"tabsplit/internal/metrics"
	"tabsplit/internal/metrics/datadog"
	"tabsplit/internal/metrics/prompush"

	// register every lookup loader kind; the job file picks one per table.
	_ "tabsplit/internal/lookup/all"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		validate          bool
		verbose           bool
		progressEvery     time.Duration
	)

	flag.StringVar(&cfgPath, "config", "tabsplit.json", "job config path (JSON, or YAML for .yaml/.yml)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (env DD_AGENT_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&verbose, "v", false, "enable verbose logs, including every anomaly")
	flag.DurationVar(&progressEvery, "progress", 10*time.Second, "progress log interval; 0 disables")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fatalf("dotenv: %v", err)
	}

	job, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	job, err = config.ApplyEnv(job, os.Getenv)
	if err != nil {
		fatalf("config: %v", err)
	}

	issues := config.ValidateJob(job)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}
	job = job.WithDefaults()

	flush := setupMetrics(job.Job, metricsBackendFlg, pushGatewayURLFlg, datadogAddrFlg, verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	start := time.Now()
	sums, err := run(ctx, job, runOptions{
		Verbose:       verbose,
		ProgressEvery: progressEvery,
		RetryDelay:    100 * time.Millisecond,
	})
	stop()
	flush()

	for _, s := range sums {
		printSummary(os.Stdout, s)
	}
	if err != nil {
		log.Printf("tabsplit: %v", err)
		os.Exit(1)
	}
	if verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// setupMetrics installs the selected backend (flag, then env) and returns a
// function that flushes it.
func setupMetrics(job, backendName, gwURL, ddAddr string, verbose bool) func() {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}

	var (
		b   metrics.Backend
		err error
	)
	switch backendName {
	case "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err = prompush.NewBackend(job, gwURL)
		if err == nil {
			log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, job)
		}

	case "datadog":
		if ddAddr == "" {
			ddAddr = os.Getenv("DD_AGENT_ADDR")
		}
		if ddAddr == "" {
			ddAddr = "127.0.0.1:8125"
		}
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       ddAddr,
			Namespace:  "tabsplit.",
			GlobalTags: []string{"job:" + job},
		})
		if err == nil {
			log.Printf("metrics: addr=%v, backend=%v", ddAddr, backendName)
		}

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
		return func() {}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
		return func() {}
	}

	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", backendName, err)
		return func() {}
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
