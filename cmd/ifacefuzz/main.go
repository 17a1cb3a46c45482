// Command ifacefuzz is a standalone driver loop around the fuzzer entry
// points. Driver flags come first; everything after "--" goes to the
// target:
//
//	ifacefuzz -runs 1000 -corpus_dir corpus -- -spec_dir spec -target_iface IBar
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"alma.local/ifuzz/fuzzer"
	"alma.local/ifuzz/internal/logging"
	"alma.local/ifuzz/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

type driver struct {
	runs        int
	maxLen      int
	corpusDir   string
	metricsAddr string
}

func parseDriverFlags(args []string, out io.Writer) (driver, []string, error) {
	fs := flag.NewFlagSet("ifacefuzz", flag.ContinueOnError)
	fs.SetOutput(out)
	var d driver
	fs.IntVar(&d.runs, "runs", 1000, "number of inputs to execute; 0 runs until interrupted")
	fs.IntVar(&d.maxLen, "max_len", 4096, "maximum encoded input size")
	fs.StringVar(&d.corpusDir, "corpus_dir", "", "load seeds from and save executed inputs to this directory")
	fs.StringVar(&d.metricsAddr, "metrics_addr", "", "serve /metrics on this address; defaults to metrics_addr of the target config")
	if err := fs.Parse(args); err != nil {
		return d, nil, err
	}
	if d.runs < 0 || d.maxLen <= 0 {
		return d, nil, fmt.Errorf("invalid -runs %d or -max_len %d", d.runs, d.maxLen)
	}
	return d, fs.Args(), nil
}

func run(ctx context.Context, args []string, stderr io.Writer, opts ...fuzzer.Option) int {
	d, rest, err := parseDriverFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tgt, err := fuzzer.Initialize(ctx, rest, append([]fuzzer.Option{fuzzer.WithMetrics(m)}, opts...)...)
	if err != nil {
		fmt.Fprintf(stderr, "initialize: %v\n", err)
		return 1
	}
	defer tgt.Close(context.Background())
	log := logging.Logger().Named("driver").With(zap.Stringer("session", tgt.Session()))

	if d.metricsAddr == "" {
		d.metricsAddr = tgt.Config().MetricsAddr
	}
	if d.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: d.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	c, err := openCorpus(d.corpusDir)
	if err != nil {
		log.Error("load corpus", zap.Error(err))
		return 1
	}
	log.Info("fuzzing", zap.Int("runs", d.runs), zap.Int("seeds", len(c.inputs)))

	for i := 0; d.runs == 0 || i < d.runs; i++ {
		if ctx.Err() != nil {
			break
		}
		var base []byte
		if len(c.inputs) > 0 {
			base = c.inputs[i%len(c.inputs)]
		}
		data := tgt.CustomMutator(base, d.maxLen, uint(i))
		tgt.TestOneInput(ctx, data)
		if err := c.add(data); err != nil {
			log.Error("save input", zap.Error(err))
			return 1
		}
	}
	log.Info("done", zap.Int("corpus", len(c.inputs)))
	return 0
}

// corpus holds the distinct inputs executed so far, keyed by content hash.
type corpus struct {
	dir    string
	seen   map[uint64]bool
	inputs [][]byte
}

func openCorpus(dir string) (*corpus, error) {
	c := &corpus{dir: dir, seen: map[uint64]bool{}}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		c.remember(data)
	}
	return c, nil
}

func (c *corpus) remember(data []byte) (uint64, bool) {
	h := xxhash.Sum64(data)
	if c.seen[h] {
		return h, false
	}
	c.seen[h] = true
	c.inputs = append(c.inputs, data)
	return h, true
}

func (c *corpus) add(data []byte) error {
	h, fresh := c.remember(data)
	if !fresh || c.dir == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(c.dir, fmt.Sprintf("%016x", h)), data, 0o644)
}
