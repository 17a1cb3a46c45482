package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/trace"
)

const pkg = "android.hardware.tests.bar"

func rec(kind trace.EventKind, ts int64, method string, args ...callspec.Value) *trace.Record {
	return &trace.Record{
		Event: kind, Timestamp: ts, Package: pkg, Version: "1.0", Interface: "IBar",
		Func: callspec.FuncSpec{Name: method, Args: args},
	}
}

func writeTrace(t *testing.T, path string, recs ...*trace.Record) {
	t.Helper()
	if err := trace.WriteFile(path, recs); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func readTrace(t *testing.T, path string) []*trace.Record {
	t.Helper()
	recs, err := trace.ReadFile(path, nil)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return recs
}

func describe(recs []*trace.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Event.String() + ":" + r.Func.Name
	}
	return out
}

func TestCleanupFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bar.trace")
	other := rec(trace.ServerEntry, 3, "add")
	other.Package = "android.hardware.tests.foo"
	writeTrace(t, path,
		rec(trace.ServerEntry, 1, "add"),
		rec(trace.ServerEntry, 2, "doThis"),
		other,
		rec(trace.ClientEntry, 4, "add"),
		rec(trace.ServerExit, 5, "doThis"),
		rec(trace.ServerExit, 6, "getFoo"), // no entry
		rec(trace.ServerExit, 7, "add"),
		rec(trace.ServerEntry, 8, "ping"), // no exit
	)
	if err := Cleanup(path, nil); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	got := describe(readTrace(t, path))
	want := []string{
		"server_api_entry:add", "server_api_exit:add",
		"server_api_entry:doThis", "server_api_exit:doThis",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cleaned trace = %v, want %v", got, want)
	}
	if _, err := os.Stat(path + "_tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind")
	}
}

func TestCleanupUnsupportedTrace(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "a.trace")
	good := filepath.Join(dir, "b.trace")
	writeTrace(t, bad, rec(trace.SyncCallbackEntry, 1, "cb"), rec(trace.SyncCallbackExit, 2, "cb"))
	writeTrace(t, good, rec(trace.PassthroughEntry, 1, "add"), rec(trace.ServerExit, 2, "add"), rec(trace.PassthroughExit, 3, "add"))

	err := Cleanup(dir, nil)
	if !errors.Is(err, ErrUnsupportedTrace) {
		t.Fatalf("expected ErrUnsupportedTrace, got %v", err)
	}
	if n := len(readTrace(t, bad)); n != 2 {
		t.Errorf("failed trace must be left alone, has %d records", n)
	}
	if got := describe(readTrace(t, good)); len(got) != 2 || got[1] != "passthrough_exit:add" {
		t.Errorf("other traces are still cleaned: %v", got)
	}
}

func TestProfileRecords(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := ProfileRecords([]*trace.Record{
		rec(trace.ServerEntry, 100, "add"),
		rec(trace.ServerEntry, 110, "doThis"),
		rec(trace.ServerExit, 150, "add"),
		rec(trace.ServerExit, 170, "doThis"),
		rec(trace.ServerEntry, 300, "ping"),
		rec(trace.ServerExit, 250, "ping"),
		rec(trace.ServerExit, 400, "getFoo"),
	}, zap.New(core))
	if p.Mode != ModeBinder {
		t.Errorf("mode = %q", p.Mode)
	}
	want := []Latency{{"add", 50}, {"doThis", 60}}
	if !reflect.DeepEqual(p.Latencies, want) {
		t.Errorf("latencies = %v, want %v", p.Latencies, want)
	}
	if n := logs.FilterMessage("negative latency").Len(); n != 1 {
		t.Errorf("negative latency logged %d times", n)
	}
	if n := logs.FilterMessage("no entry record for exit").Len(); n != 1 {
		t.Errorf("unpaired exit logged %d times", n)
	}
}

func TestProfileFileMode(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, filepath.Join(dir, "a"), rec(trace.PassthroughEntry, 1, "add"), rec(trace.PassthroughExit, 4, "add"))
	writeTrace(t, filepath.Join(dir, "b"))
	ps, err := ProfilePath(dir, nil)
	if err != nil {
		t.Fatalf("ProfilePath: %v", err)
	}
	if len(ps) != 2 || ps[0].Mode != ModePassthrough || ps[1].Mode != "" {
		t.Fatalf("unexpected profiles %+v", ps)
	}
	sum := Summarize(ps...)
	if len(sum) != 1 || sum[0].Method != "add" || sum[0].Count != 1 || sum[0].Mean != 3 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize(
		&Profile{Latencies: []Latency{{"b", 10}, {"a", 4}}},
		&Profile{Latencies: []Latency{{"b", 30}, {"b", 0}}},
	)
	if len(sum) != 2 || sum[0].Method != "a" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	b := sum[1]
	if b.Count != 3 || b.Min != 0 || b.Max != 30 || b.Mean != 40.0/3 {
		t.Errorf("unexpected stats %+v", b)
	}
	if b.Histogram.Total != 3 || b.Histogram.Counts[0] != 1 || b.Histogram.Counts[4] != 1 || b.Histogram.Counts[5] != 1 {
		t.Errorf("unexpected histogram %v", b.Histogram.Counts)
	}
	if f := b.Histogram.Fraction(0); f < 0.33 || f > 0.34 {
		t.Errorf("fraction = %v", f)
	}
}

func TestDedup(t *testing.T) {
	dir := t.TempDir()
	one := callspec.Int(callspec.Int32, 1)
	two := callspec.Int(callspec.Int32, 2)
	writeTrace(t, filepath.Join(dir, "a.trace"), rec(trace.ServerEntry, 1, "add", one), rec(trace.ServerExit, 2, "add", one))
	writeTrace(t, filepath.Join(dir, "b.trace"), rec(trace.ServerEntry, 50, "add", one), rec(trace.ServerExit, 90, "add", one))
	writeTrace(t, filepath.Join(dir, "c.trace"))
	writeTrace(t, filepath.Join(dir, "d.trace"), rec(trace.ServerEntry, 1, "add", two), rec(trace.ServerExit, 2, "add", two))

	stats, err := Dedup(dir, nil)
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if stats.Total != 4 || stats.Empty != 1 || stats.Duplicates != 1 || stats.Ratio() != 0.5 {
		t.Errorf("unexpected stats %+v", stats)
	}
	left, _ := traceFiles(dir)
	want := []string{filepath.Join(dir, "a.trace"), filepath.Join(dir, "d.trace")}
	if !reflect.DeepEqual(left, want) {
		t.Errorf("remaining = %v, want %v", left, want)
	}

	again, err := Dedup(dir, nil)
	if err != nil || again.Total != 2 || len(again.Deleted) != 0 {
		t.Errorf("second run should delete nothing: %+v %v", again, err)
	}
}

func TestDedupUnreadableAbortsBeforeDeleting(t *testing.T) {
	dir := t.TempDir()
	writeTrace(t, filepath.Join(dir, "a.trace"))
	if err := os.WriteFile(filepath.Join(dir, "b.trace"), []byte{9, 0, 0, 0, 1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Dedup(dir, nil); err == nil {
		t.Fatalf("expected a read error")
	}
	if _, err := os.Stat(filepath.Join(dir, "a.trace")); err != nil {
		t.Errorf("nothing should be deleted: %v", err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSelect(t *testing.T) {
	covDir, traceDir := t.TempDir(), t.TempDir()
	// cov1: 1,2  cov2: 2,3,4  cov3: 3,4,5
	writeFile(t, filepath.Join(covDir, "t1.yaml"), "total: 5\ncovered: [l1, l2]\n")
	writeFile(t, filepath.Join(covDir, "t2.yaml"), "total: 5\ncovered: [l2, l3, l4]\n")
	writeFile(t, filepath.Join(covDir, "t3.yaml"), "total: 5\ncovered: [l3, l4, l5]\n")
	writeFile(t, filepath.Join(covDir, "t4.yaml"), "total: 5\ncovered: [l9]\n") // trace missing
	writeFile(t, filepath.Join(traceDir, "t1"), "x")
	writeFile(t, filepath.Join(traceDir, "t2"), "xxxxxxxxxx")
	writeFile(t, filepath.Join(traceDir, "t3"), "xxxxxxxxxx")

	sel, err := Select(covDir, traceDir, MetricCoverage, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	var order []string
	for _, s := range sel.Traces {
		order = append(order, filepath.Base(s.Trace))
	}
	// t2 and t3 tie on the first round; t2 sorts first.
	if !reflect.DeepEqual(order, []string{"t2", "t1", "t3"}) {
		t.Errorf("selection order = %v", order)
	}
	if sel.Covered != 5 || sel.Total != 5 || sel.Rate() != 1 {
		t.Errorf("unexpected totals %+v", sel)
	}
	if sel.Traces[1].Gain != 1 || sel.Traces[1].Covered != 4 {
		t.Errorf("unexpected step %+v", sel.Traces[1])
	}

	ratio, err := Select(covDir, traceDir, MetricRatio, nil)
	if err != nil {
		t.Fatalf("Select ratio: %v", err)
	}
	if filepath.Base(ratio.Traces[0].Trace) != "t1" {
		t.Errorf("ratio metric should prefer the small trace, got %v", ratio.Traces[0])
	}
}

func TestSelectMonotonic(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	const files = 8
	locs := make([][]string, files)
	for i := range locs {
		for j, n := 0, 1+rnd.Intn(6); j < n; j++ {
			locs[i] = append(locs[i], fmt.Sprintf("l%d", rnd.Intn(20)))
		}
	}

	prev := 0
	union := map[string]bool{}
	for k := 1; k <= files; k++ {
		covDir, traceDir := t.TempDir(), t.TempDir()
		for i := 0; i < k; i++ {
			name := fmt.Sprintf("t%d", i)
			writeFile(t, filepath.Join(covDir, name+".yaml"),
				fmt.Sprintf("total: 20\ncovered: [%s]\n", strings.Join(locs[i], ", ")))
			writeFile(t, filepath.Join(traceDir, name), "x")
		}
		for _, l := range locs[k-1] {
			union[l] = true
		}
		sel, err := Select(covDir, traceDir, MetricCoverage, nil)
		if err != nil {
			t.Fatalf("Select over %d files: %v", k, err)
		}
		if sel.Covered != len(union) {
			t.Errorf("%d files: covered %d, union has %d", k, sel.Covered, len(union))
		}
		if sel.Covered < prev {
			t.Errorf("%d files: covered dropped from %d to %d", k, prev, sel.Covered)
		}
		prev = sel.Covered
	}
}

func TestSelectEmpty(t *testing.T) {
	sel, err := Select(t.TempDir(), t.TempDir(), MetricCoverage, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.Traces) != 0 || sel.Rate() != 0 {
		t.Errorf("empty input should select nothing: %+v", sel)
	}
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{"": MetricCoverage, "coverage": MetricCoverage, "ratio": MetricRatio} {
		if got, err := ParseMetric(in); err != nil || got != want {
			t.Errorf("ParseMetric(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMetric("size"); err == nil {
		t.Errorf("expected error")
	}
}

func TestParseAndConvert(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "a.trace")
	orig := []*trace.Record{
		rec(trace.ServerEntry, 1, "add", callspec.Int(callspec.Int32, -5)),
		rec(trace.ServerExit, 9, "add", callspec.Int(callspec.Int32, -5)),
	}
	writeTrace(t, bin, orig...)

	var text bytes.Buffer
	if err := Parse(bin, &text, nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(text.String(), "server_api_exit") {
		t.Errorf("text form missing exit record:\n%s", text.String())
	}
	txt := filepath.Join(dir, "a.txt")
	writeFile(t, txt, text.String())
	out, err := Convert(txt)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out != txt+"_binary" {
		t.Errorf("output path %s", out)
	}
	a, _ := os.ReadFile(bin)
	b, _ := os.ReadFile(out)
	if !bytes.Equal(a, b) {
		t.Errorf("binary -> text -> binary is not lossless")
	}
}
