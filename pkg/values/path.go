package values

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SplitPath turns "content.items[0].name" into ["content", "items", "0", "name"].
func SplitPath(path string) []string {
	path = strings.NewReplacer("[", ".", "]", "").Replace(strings.TrimSpace(path))
	raw := strings.Split(path, ".")
	out := raw[:0]
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Lookup walks root along a dotted path. Map keys fall back to a case-insensitive match
// (so headers.content-type finds Content-Type), numeric segments index into lists and
// strings, and a string holding JSON is decoded before descending into it.
func Lookup(root any, path string) (any, error) {
	cur := root
	segs := SplitPath(path)
	for i, seg := range segs {
		next, ok := step(cur, seg)
		if !ok {
			return nil, fmt.Errorf("path %q: cannot resolve %q at %q", path, seg, strings.Join(segs[:i], "."))
		}
		cur = next
	}
	return cur, nil
}

func step(cur any, seg string) (any, bool) {
	switch t := cur.(type) {
	case map[string]any:
		if v, ok := t[seg]; ok {
			return v, true
		}
		for k, v := range t {
			if strings.EqualFold(k, seg) {
				return v, true
			}
		}
		return nil, false
	case map[string]string:
		if v, ok := t[seg]; ok {
			return v, true
		}
		for k, v := range t {
			if strings.EqualFold(k, seg) {
				return v, true
			}
		}
		return nil, false
	case []any:
		idx, ok := index(seg, len(t))
		if !ok {
			return nil, false
		}
		return t[idx], true
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return step(decoded, seg)
			}
		}
		runes := []rune(t)
		idx, ok := index(seg, len(runes))
		if !ok {
			return nil, false
		}
		return string(runes[idx]), true
	case nil:
		return nil, false
	}

	normalized := Normalize(cur)
	switch normalized.(type) {
	case map[string]any, []any:
		return step(normalized, seg)
	}
	return nil, false
}

func index(seg string, n int) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}
