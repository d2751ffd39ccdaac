// Package inputs parses workflow inputs from files, directories, globs,
// inline JSON, and k=v;k=v strings into a single flat mapping.
package inputs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ParseError kinds.
var (
	// ErrFormat covers malformed k=v strings and unusable sources.
	ErrFormat = errors.New("malformed input")

	// ErrYAML covers sources that fail to parse as YAML.
	ErrYAML = errors.New("invalid YAML")

	// ErrStructure covers parsed documents whose root is not a mapping.
	ErrStructure = errors.New("invalid input structure")
)

// Parse resolves each source and merges the results into one flat mapping.
// Later sources override earlier keys. A source may be:
//
//   - a YAML or JSON file path
//   - a directory (every regular file inside is parsed)
//   - a glob pattern, ** included
//   - an inline JSON object, starting with "{"
//   - a string of semicolon-separated k=v pairs
func Parse(sources ...string) (map[string]any, error) {
	merged := make(map[string]any)
	for _, source := range sources {
		parsed, err := parseOne(source)
		if err != nil {
			return nil, err
		}
		for k, v := range parsed {
			merged[k] = v
		}
	}
	return merged, nil
}

func parseOne(source string) (map[string]any, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrFormat)
	}

	if strings.HasPrefix(source, "{") {
		return parseInlineJSON(source)
	}

	if info, err := os.Stat(source); err == nil {
		if info.IsDir() {
			return parseDir(source)
		}
		return parseFile(source)
	}

	if isGlob(source) {
		return parseGlob(source)
	}

	if strings.Contains(source, "=") {
		return parsePairs(source)
	}

	return nil, fmt.Errorf("%w: %q is neither a file, a glob, inline JSON, nor k=v pairs", ErrFormat, source)
}

func parseInlineJSON(source string) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(source), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrYAML, err)
	}
	mapping, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: inline JSON root is %T, want object", ErrStructure, decoded)
	}
	return mapping, nil
}

func parseFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrFormat, path, err)
	}
	var decoded any
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrYAML, path, err)
	}
	if decoded == nil {
		return map[string]any{}, nil
	}
	mapping, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s root is %T, want mapping", ErrStructure, path, decoded)
	}
	return mapping, nil
}

func parseDir(dir string) (map[string]any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read dir %s: %v", ErrFormat, dir, err)
	}
	merged := make(map[string]any)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parsed, err := parseFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for k, v := range parsed {
			merged[k] = v
		}
	}
	return merged, nil
}

func parseGlob(pattern string) (map[string]any, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: glob %q: %v", ErrFormat, pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: glob %q matched nothing", ErrFormat, pattern)
	}
	sort.Strings(matches)
	merged := make(map[string]any)
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		parsed, err := parseFile(match)
		if err != nil {
			return nil, err
		}
		for k, v := range parsed {
			merged[k] = v
		}
	}
	return merged, nil
}

// parsePairs parses "k=v;k=v" strings. Values go through YAML scalar
// parsing so numbers and booleans keep their types.
func parsePairs(source string) (map[string]any, error) {
	out := make(map[string]any)
	for _, pair := range strings.Split(source, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("%w: %q is not a k=v pair", ErrFormat, pair)
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(strings.TrimSpace(value)), &decoded); err != nil {
			decoded = strings.TrimSpace(value)
		}
		out[key] = decoded
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no k=v pairs in %q", ErrFormat, source)
	}
	return out, nil
}

func isGlob(source string) bool {
	return strings.ContainsAny(source, "*?[")
}
