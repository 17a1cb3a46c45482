// Package pipeline implements the offline trace tools: cleanup, latency
// profiling, deduplication, coverage-driven selection, and conversion
// between the binary and text forms.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// traceFiles returns path itself for a regular file, or the regular files
// directly inside path, sorted by name.
func traceFiles(path string) ([]string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.Mode().IsRegular() {
		return []string{path}, nil
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is neither a file nor a directory", path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// forEach runs fn on every file with bounded parallelism. Results are
// indexed like files; fn errors are kept per file rather than cancelling
// the batch.
func forEach[T any](files []string, fn func(path string) (T, error)) ([]T, []error) {
	out := make([]T, len(files))
	errs := make([]error, len(files))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			out[i], errs[i] = fn(f)
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}
