package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/internal/fixture"
	"alma.local/ifuzz/trace"
)

func specDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{"bar.yaml": fixture.BarYAML, "foo.yaml": fixture.FooYAML} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func addTrace(t *testing.T, sum int64) string {
	t.Helper()
	args := []callspec.Value{callspec.Int(callspec.Int32, 1), callspec.Int(callspec.Int32, 2)}
	recs := []*trace.Record{
		{Event: trace.ServerEntry, Package: "android.hardware.tests.bar", Version: "1.0", Interface: "IBar",
			Func: callspec.FuncSpec{Name: "add", Args: args}},
		{Event: trace.ServerExit, Package: "android.hardware.tests.bar", Version: "1.0", Interface: "IBar",
			Func: callspec.FuncSpec{Name: "add", Args: args, Returns: []callspec.Value{callspec.Int(callspec.Int32, sum)}}},
	}
	path := filepath.Join(t.TempDir(), "add.trace")
	if err := trace.WriteFile(path, recs); err != nil {
		t.Fatal(err)
	}
	return path
}

func replayArgs(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	svc := &fixture.Service{}
	code := run(context.Background(), args, &out, &errOut, svc.Provider(fixture.Schemas()))
	return code, out.String(), errOut.String()
}

func TestReplayerReportsPerTrace(t *testing.T) {
	dir := specDir(t)
	good, bad := addTrace(t, 3), addTrace(t, 4)
	code, stdout, _ := replayArgs(t, "-spec_dir", dir, good, bad)
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "add.trace: pairs=1 matched=1") {
		t.Errorf("missing clean report: %q", stdout)
	}
	if !strings.Contains(stdout, "IBar::add: 1") || !strings.Contains(stdout, "total: pairs=2") {
		t.Errorf("missing mismatch or total: %q", stdout)
	}
}

func TestReplayerStrictFails(t *testing.T) {
	code, _, stderr := replayArgs(t, "-spec_dir", specDir(t), "-strict", addTrace(t, 4))
	if code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
	if !strings.Contains(stderr, "replay failed") {
		t.Errorf("failure not logged: %q", stderr)
	}
}

func TestReplayerUsage(t *testing.T) {
	if code, _, stderr := replayArgs(t); code != 2 || !strings.Contains(stderr, "usage: replayer") {
		t.Errorf("no traces: exit %d stderr %q", code, stderr)
	}
	if code, _, _ := replayArgs(t, "-log_level", "loud", "x.trace"); code != 2 {
		t.Errorf("bad level: exit %d", code)
	}
	if code, _, _ := replayArgs(t, "-spec_dir", filepath.Join(t.TempDir(), "none"), "x.trace"); code != 1 {
		t.Errorf("missing spec dir: exit %d", code)
	}
}
