package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const barYAML = `
package: android.hardware.tests.bar
version: "1.0"
name: IBar
types:
  - kind: enum
    type: android.hardware.tests.bar@1.0::Color
    enum:
      scalar: uint8
      values:
        - {name: RED, value: 0}
        - {name: BLUE, value: 2}
  - kind: struct
    type: android.hardware.tests.bar@1.0::Pair
    fields:
      - {kind: scalar, name: key, scalar: string}
      - {kind: enum, name: color, type: "android.hardware.tests.bar@1.0::Color"}
methods:
  - name: doThis
    args:
      - {kind: scalar, name: f, scalar: float32}
  - name: setPair
    args:
      - {kind: struct, name: p, type: "android.hardware.tests.bar@1.0::Pair"}
  - name: getFoo
    returns:
      - {kind: interface, type: "android.hardware.tests.foo@1.0::IFoo"}
`

const fooYAML = `
package: android.hardware.tests.foo
version: "1.0"
name: IFoo
methods:
  - name: bar
    args:
      - kind: vector
        name: xs
        elem: {kind: scalar, scalar: int32}
`

func writeSchemas(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"android/hardware/tests/bar/1.0/IBar.yaml": barYAML,
		"android/hardware/tests/foo/1.0/IFoo.yml":  fooYAML,
		"android/hardware/tests/foo/1.0/README":    "not a schema",
	}
	for rel, body := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestLoadDir(t *testing.T) {
	set, err := LoadDir(writeSchemas(t))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 schemas, got %d", set.Len())
	}
	bar, err := set.Lookup("IBar")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if bar.FQName() != "android.hardware.tests.bar@1.0::IBar" {
		t.Errorf("unexpected FQName %s", bar.FQName())
	}
	if _, err := set.Find("android.hardware.tests.foo", "1.0", "IFoo"); err != nil {
		t.Errorf("Find: %v", err)
	}
	if _, err := set.Lookup("IMissing"); !errors.Is(err, ErrSchemaNotFound) {
		t.Errorf("expected ErrSchemaNotFound, got %v", err)
	}
	if got := set.All(); got[0].Name != "IBar" || got[1].Name != "IFoo" {
		t.Errorf("All() not sorted: %s, %s", got[0].Name, got[1].Name)
	}
}

func TestPredefinedHarvest(t *testing.T) {
	set, err := LoadDir(writeSchemas(t))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	color, ok := set.Predefined("android.hardware.tests.bar@1.0::Color")
	if !ok || color.Enum == nil || len(color.Enum.Values) != 2 {
		t.Fatalf("Color not harvested: %+v", color)
	}
	bar, _ := set.Lookup("IBar")
	m, _ := bar.Method("setPair")
	resolved, err := set.Resolve(m.Args[0])
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Name != "p" || len(resolved.Fields) != 2 {
		t.Errorf("unexpected resolved shape: %+v", resolved)
	}
	if !resolved.Fields[1].IsRef() {
		t.Errorf("nested enum should stay a reference")
	}
}

func TestParseRejectsBadSchemas(t *testing.T) {
	bad := []string{
		"name: IBar\nversion: '1.0'\nmethods: []\n",
		"package: p\nversion: '1.0'\nname: I\nmethods:\n  - name: a\n  - name: a\n",
		"package: p\nversion: '1.0'\nname: I\nmethods:\n  - name: a\n    args:\n      - {kind: scalar, scalar: int128}\n",
		"package: p\nversion: '1.0'\nname: I\nmethods:\n  - name: a\n    args:\n      - {kind: vector}\n",
	}
	for i, raw := range bad {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestDuplicateInterfaceName(t *testing.T) {
	a := &Interface{Package: "p.a", Version: "1.0", Name: "IX"}
	b := &Interface{Package: "p.b", Version: "1.0", Name: "IX"}
	if _, err := NewSet(a, b); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestStripNamespace(t *testing.T) {
	cases := map[string]string{
		"android.hardware.tests.foo@1.0::IFoo": "IFoo",
		"IFoo":                                 "IFoo",
		"a::b::IBaz":                           "IBaz",
	}
	for in, want := range cases {
		if got := StripNamespace(in); got != want {
			t.Errorf("StripNamespace(%q) = %q, want %q", in, got, want)
		}
	}
	if major, minor := MajorMinor("2.1"); major != "2" || minor != "1" {
		t.Errorf("MajorMinor(2.1) = %s, %s", major, minor)
	}
}
