package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.ExecSize != 16 || cfg.Mutator.EnumBias.Against != 1000 || cfg.Mutator.FuncMutated.For != 100 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ifuzz.yaml")
	body := `
spec_dir: " /data/spec "
target_iface: IBar
binder_mode: true
exec_size: 4
trace:
  prefix: /data/local/tmp/bar
  device:
    product: walleye
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SpecDir != "/data/spec" || cfg.TargetInterface != "IBar" || !cfg.BinderMode || cfg.ExecSize != 4 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Trace.Prefix != "/data/local/tmp/bar" || cfg.Trace.Device.Product != "walleye" {
		t.Errorf("unexpected trace section %+v", cfg.Trace)
	}
	if len(cfg.Mutator.Buckets) != 5 || cfg.Service != "default" {
		t.Errorf("missing sections should keep defaults: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty_spec.yaml": "spec_dir: \"\"\n",
		"exec.yaml":       "exec_size: 0\n",
		"tag.yaml":        "mutator:\n  buckets:\n    - {id: x, tag: gaussian, weight: 1}\n",
		"weight.yaml":     "mutator:\n  buckets:\n    - {id: x, tag: uniform, weight: 0}\n",
		"syntax.yaml":     "exec_size: [\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("missing file: expected an error")
	}
}
