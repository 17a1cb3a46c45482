package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"alma.local/ifuzz/callspec"
	"alma.local/ifuzz/fuzzer"
	"alma.local/ifuzz/internal/fixture"
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

func testOpts(svc *fixture.Service) []fuzzer.Option {
	core, _ := observer.New(zapcore.InfoLevel)
	log := zap.New(core, zap.WithFatalHook(zapcore.WriteThenPanic))
	return []fuzzer.Option{fuzzer.WithLogger(log), fuzzer.WithProvider(svc.Provider(fixture.Schemas()))}
}

func TestDriverSavesCorpus(t *testing.T) {
	corpusDir := filepath.Join(t.TempDir(), "corpus")
	svc := &fixture.Service{}
	args := []string{"-runs", "20", "-corpus_dir", corpusDir, "--", "-spec_dir", specDir(t), "-target_iface", "IBar", "-seed", "1"}
	var stderr bytes.Buffer
	if code := run(context.Background(), args, &stderr, testOpts(svc)...); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	entries, err := os.ReadDir(corpusDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatalf("no inputs saved")
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(corpusDir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := callspec.FromBytes(data); !ok {
			t.Errorf("saved input %s does not decode", e.Name())
		}
	}

	// A second run starts from the saved seeds.
	c, err := openCorpus(corpusDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.inputs) != len(entries) {
		t.Errorf("loaded %d seeds, want %d", len(c.inputs), len(entries))
	}
}

func TestDriverArgErrors(t *testing.T) {
	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"-runs", "-1"}, &stderr); code != 2 {
		t.Errorf("negative runs: exit %d", code)
	}
	if code := run(context.Background(), []string{"-nope"}, &stderr); code != 2 {
		t.Errorf("unknown flag: exit %d", code)
	}
	if code := run(context.Background(), []string{"--", "-spec_dir", specDir(t)}, &stderr, testOpts(&fixture.Service{})...); code != 1 {
		t.Errorf("missing target: exit %d", code)
	}
}

func TestCorpusAddDedups(t *testing.T) {
	dir := t.TempDir()
	c, err := openCorpus(dir)
	if err != nil {
		t.Fatal(err)
	}
	for j := 0; j < 3; j++ {
		if err := c.add([]byte("same")); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || len(c.inputs) != 1 {
		t.Errorf("files %d inputs %d, want 1 and 1", len(entries), len(c.inputs))
	}
}
