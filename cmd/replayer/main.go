// Command replayer re-issues the calls recorded in trace files against live
// adapters and reports result mismatches.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"alma.local/ifuzz/adapter"
	"alma.local/ifuzz/adapter/wasm"
	"alma.local/ifuzz/feedback"
	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/registry"
	"alma.local/ifuzz/replay"
	"alma.local/ifuzz/schema"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr, adapter.Default))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, static adapter.Provider) int {
	fs := flag.NewFlagSet("replayer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		specDir    = fs.String("spec_dir", "spec", "directory of interface schema files")
		driverDir  = fs.String("driver_dir", "", "directory of WebAssembly adapter modules")
		binderMode = fs.Bool("binder_mode", false, "bind in binder mode only")
		service    = fs.String("service", "default", "service name to bind to")
		strict     = fs.Bool("strict", false, "stop a trace at its first mismatch")
		logLevel   = fs.String("log_level", "info", "log level")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: replayer [flags] trace...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	level, err := zapcore.ParseLevel(*logLevel)
	if err != nil || fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	log := logging.ToWriter(stderr, level)
	defer log.Sync()

	set, err := schema.LoadDir(*specDir)
	if err != nil {
		log.Error("load schemas", zap.Error(err))
		return 1
	}
	chain := adapter.Chain{static}
	if *driverDir != "" {
		p := wasm.NewProvider(ctx, *driverDir, log)
		defer p.Close(context.Background())
		chain = append(chain, p)
	}
	mode := registry.ModeAuto
	if *binderMode {
		mode = registry.ModeBinder
	}
	svc := *service
	r := replay.New(set, adapter.NewLoader(chain, log), replay.Options{
		Strict:  *strict,
		Mode:    mode,
		Service: func(*schema.Interface) string { return svc },
		Logger:  log,
	})

	total := feedback.NewReport("total")
	code := 0
	for _, path := range fs.Args() {
		rep, err := r.ReplayFile(ctx, path)
		fmt.Fprintln(stdout, rep.String())
		total.Merge(rep)
		if err != nil {
			log.Error("replay failed", zap.String("trace", path), zap.Error(err))
			code = 1
			if errors.Is(err, context.Canceled) {
				break
			}
		}
	}
	if fs.NArg() > 1 {
		fmt.Fprintln(stdout, total.String())
	}
	return code
}
