package inputs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestParse_Pairs(t *testing.T) {
	got, err := Parse("name=web; port=8080; debug=true")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["name"] != "web" {
		t.Errorf("expected web, got %v", got["name"])
	}
	// Scalars keep their YAML types.
	if got["port"] != 8080 {
		t.Errorf("expected int 8080, got %v (%T)", got["port"], got["port"])
	}
	if got["debug"] != true {
		t.Errorf("expected true, got %v", got["debug"])
	}
}

func TestParse_PairsMalformed(t *testing.T) {
	for _, source := range []string{"=value", "justtext;", "no-separator-here"} {
		_, err := Parse(source)
		if !errors.Is(err, ErrFormat) {
			t.Errorf("%q: expected ErrFormat, got %v", source, err)
		}
	}
}

func TestParse_InlineJSON(t *testing.T) {
	got, err := Parse(`{"name": "web", "port": 8080}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["name"] != "web" || got["port"] != float64(8080) {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestParse_InlineJSONNonObject(t *testing.T) {
	if _, err := Parse(`{"a": 1`); !errors.Is(err, ErrYAML) {
		t.Errorf("expected ErrYAML for truncated JSON, got %v", err)
	}
}

func TestParse_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "inputs.yaml", "name: web\nport: 8080\nnested:\n  key: value\n")

	got, err := Parse(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["name"] != "web" || got["port"] != 8080 {
		t.Errorf("unexpected result: %v", got)
	}
	nested, ok := got["nested"].(map[string]any)
	if !ok || nested["key"] != "value" {
		t.Errorf("nested mapping lost: %v", got["nested"])
	}
}

func TestParse_EmptyFileIsEmptyMapping(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.yaml", "")

	got, err := Parse(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty mapping, got %v", got)
	}
}

func TestParse_FileRootMustBeMapping(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "list.yaml", "- one\n- two\n")

	if _, err := Parse(path); !errors.Is(err, ErrStructure) {
		t.Errorf("expected ErrStructure, got %v", err)
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "broken.yaml", "key: [unclosed\n")

	if _, err := Parse(path); !errors.Is(err, ErrYAML) {
		t.Errorf("expected ErrYAML, got %v", err)
	}
}

func TestParse_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: web\n")
	writeFile(t, dir, "b.yaml", "port: 8080\n")

	got, err := Parse(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["name"] != "web" || got["port"] != 8080 {
		t.Errorf("directory merge incomplete: %v", got)
	}
}

func TestParse_Glob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.yaml", "a: 1\n")
	writeFile(t, dir, "two.yaml", "b: 2\n")
	writeFile(t, dir, "skip.txt", "not: yaml: here: [\n")

	got, err := Parse(filepath.Join(dir, "*.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["a"] != 1 || got["b"] != 2 {
		t.Errorf("glob merge incomplete: %v", got)
	}
}

func TestParse_GlobNoMatches(t *testing.T) {
	dir := t.TempDir()
	if _, err := Parse(filepath.Join(dir, "*.yaml")); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
}

func TestParse_LaterSourcesOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "name: web\nport: 80\n")

	got, err := Parse(path, "port=9090")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["name"] != "web" || got["port"] != 9090 {
		t.Errorf("override did not apply: %v", got)
	}
}

func TestParse_UnusableSource(t *testing.T) {
	if _, err := Parse("/no/such/path.yaml"); !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat, got %v", err)
	}
}
