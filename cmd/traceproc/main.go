// Command traceproc is the offline trace tool: cleanup, latency profiling,
// deduplication, text conversion and coverage-driven trace selection.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/pipeline"
)

const usage = `usage: traceproc [--metric=coverage|ratio] <mode> <args>

modes:
  --cleanup <path>                          keep matched entry/exit pairs only
  --profiling <path>                        print per-call latencies
  --summary <path>                          print latency statistics per method
  --dedup <dir>                             delete empty and duplicate traces
  --parse <file>                            print a binary trace as text
  --convert <file>                          write <file>_binary from a text trace
  --trace_selection <coverageDir> <traceDir> select traces by coverage gain
`

// exit statuses
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	log := logging.ToWriter(stderr, zap.InfoLevel)
	defer log.Sync()

	metric := pipeline.MetricCoverage
	for len(args) > 0 && strings.HasPrefix(args[0], "--metric=") {
		m, err := pipeline.ParseMetric(strings.TrimPrefix(args[0], "--metric="))
		if err != nil {
			fmt.Fprintf(stderr, "%v\n%s", err, usage)
			return exitUsage
		}
		metric = m
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	mode, params := args[0], args[1:]
	want := 1
	if mode == "--trace_selection" {
		want = 2
	}
	switch mode {
	case "--cleanup", "--profiling", "--summary", "--dedup", "--parse", "--convert", "--trace_selection":
	default:
		fmt.Fprintf(stderr, "unknown mode %q\n%s", mode, usage)
		return exitUsage
	}
	if len(params) != want {
		fmt.Fprintf(stderr, "%s takes %d argument(s), got %d\n%s", mode, want, len(params), usage)
		return exitUsage
	}

	if err := dispatch(mode, params, metric, stdout, log); err != nil {
		log.Error("traceproc failed", zap.String("mode", mode), zap.Error(err))
		return exitError
	}
	return exitOK
}

func dispatch(mode string, params []string, metric pipeline.Metric, out io.Writer, log *zap.Logger) error {
	switch mode {
	case "--cleanup":
		return pipeline.Cleanup(params[0], log)

	case "--profiling":
		profiles, err := pipeline.ProfilePath(params[0], log)
		for _, p := range profiles {
			if p.Mode == "" {
				continue
			}
			fmt.Fprintf(out, "hidl_hal_mode:%s\n", p.Mode)
			for _, l := range p.Latencies {
				fmt.Fprintf(out, "%s:%d\n", l.Method, l.Nanos)
			}
		}
		return err

	case "--summary":
		profiles, err := pipeline.ProfilePath(params[0], log)
		for _, s := range pipeline.Summarize(profiles...) {
			fmt.Fprintf(out, "%s: count=%d min=%d max=%d mean=%.1f\n", s.Method, s.Count, s.Min, s.Max, s.Mean)
		}
		return err

	case "--dedup":
		stats, err := pipeline.Dedup(params[0], log)
		if err != nil {
			return err
		}
		for _, f := range stats.Deleted {
			fmt.Fprintf(out, "deleted: %s\n", f)
		}
		fmt.Fprintf(out, "traces processed: %d\n", stats.Total)
		fmt.Fprintf(out, "empty traces deleted: %d\n", stats.Empty)
		fmt.Fprintf(out, "duplicate traces deleted: %d\n", stats.Duplicates)
		fmt.Fprintf(out, "deleted ratio: %.4f\n", stats.Ratio())
		return nil

	case "--parse":
		return pipeline.Parse(params[0], out, log)

	case "--convert":
		path, err := pipeline.Convert(params[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
		return nil

	case "--trace_selection":
		sel, err := pipeline.Select(params[0], params[1], metric, log)
		if err != nil {
			return err
		}
		for _, s := range sel.Traces {
			fmt.Fprintf(out, "select trace file: %s\n", s.Trace)
		}
		fmt.Fprintf(out, "selected traces: %d\n", len(sel.Traces))
		fmt.Fprintf(out, "total locations covered: %d\n", sel.Covered)
		fmt.Fprintf(out, "total locations: %d\n", sel.Total)
		fmt.Fprintf(out, "coverage rate: %.4f\n", sel.Rate())
		return nil
	}
	return fmt.Errorf("unhandled mode %s", mode)
}
