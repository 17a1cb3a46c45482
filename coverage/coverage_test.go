package coverage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapOps(t *testing.T) {
	a := FromLocations([]string{"a.c:1", "a.c:2", "a.c:3"})
	b := FromLocations([]string{"a.c:3", "b.c:9"})
	if a.Len() != 3 || !a.Contains(LocationID("a.c:2")) {
		t.Fatalf("unexpected map %v", a)
	}
	if g := a.Gain(b); g != 1 {
		t.Errorf("gain = %d, want 1", g)
	}
	if n := a.Intersect(b).Len(); n != 1 {
		t.Errorf("intersection = %d, want 1", n)
	}
	a.Union(b)
	if a.Len() != 4 || a.Gain(b) != 0 {
		t.Errorf("union failed: %d locations", a.Len())
	}
	if LocationID("x") == LocationID("y") {
		t.Errorf("distinct locations collide")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.yaml", "trace: other.trace\ntotal: 10\ncovered: [x, y]\n")
	write("a.trace.yml", "total: 10\ncovered: [x]\n")
	write("notes.txt", "ignored")
	write("sub/c.yaml", "total: 10\n")

	files, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("loaded %d files, want 3", len(files))
	}
	if files[0].Name != "a.trace.yml" || files[0].Trace != "a.trace" {
		t.Errorf("default trace name: %+v", files[0])
	}
	if files[1].Trace != "other.trace" || files[1].Locations().Len() != 2 {
		t.Errorf("explicit trace name: %+v", files[1])
	}
	if files[2].Name != filepath.Join("sub", "c.yaml") || files[2].Locations().Len() != 0 {
		t.Errorf("nested file: %+v", files[2])
	}

	write("bad.yaml", "total: [")
	if _, err := LoadDir(dir); err == nil {
		t.Errorf("expected a parse error")
	}
}
