package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Project returns a copy of doc limited to sel. A nil sel copies the whole document.
func Project(doc map[string]any, sel []string) map[string]any {
	if doc == nil {
		return nil
	}
	if sel == nil {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}

	out := make(map[string]any, len(sel))
	for _, name := range sel {
		if v, ok := doc[name]; ok {
			out[name] = v
		}
	}
	return out
}

// GetPath resolves a dotted path in a document.
func GetPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// LocalKeys collects the distinct lookup keys held by docs under field.
// Array values contribute each element.
func LocalKeys(docs []map[string]any, field string) []any {
	seen := make(map[string]bool)
	var keys []any
	add := func(v any) {
		if v == nil {
			return
		}
		k := keyOf(v)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, v)
		}
	}

	for _, doc := range docs {
		v, ok := GetPath(doc, field)
		if !ok {
			continue
		}
		if arr, isArr := v.([]any); isArr {
			for _, item := range arr {
				add(item)
			}
			continue
		}
		add(v)
	}
	return keys
}

// Attach embeds the matching targets into each doc under l.As.
// Targets must be the documents of l.From whose foreign field is one of the
// docs' local keys.
func Attach(docs []map[string]any, l Lookup, targets []map[string]any) {
	index := make(map[string][]map[string]any)
	for _, t := range targets {
		v, ok := GetPath(t, l.ForeignField)
		if !ok {
			continue
		}
		k := keyOf(v)
		index[k] = append(index[k], Project(t, l.Select))
	}

	for _, doc := range docs {
		var matches []map[string]any
		if v, ok := GetPath(doc, l.LocalField); ok && v != nil {
			if arr, isArr := v.([]any); isArr {
				for _, item := range arr {
					matches = append(matches, index[keyOf(item)]...)
				}
			} else {
				matches = index[keyOf(v)]
			}
		}

		if l.JustOne {
			if len(matches) == 0 {
				doc[l.As] = nil
			} else {
				doc[l.As] = matches[0]
			}
			continue
		}

		list := make([]any, len(matches))
		for i, m := range matches {
			list[i] = m
		}
		doc[l.As] = list
	}
}

// Shape applies lookups already attached and the query's selection.
// Lookup keys survive selection.
func Shape(doc map[string]any, q Query) map[string]any {
	if q.Select == nil {
		return doc
	}
	out := Project(doc, q.Select)
	for _, l := range q.Lookups {
		if v, ok := doc[l.As]; ok {
			out[l.As] = v
		}
	}
	return out
}

// keyOf normalizes a value for equality matching across numeric types.
func keyOf(v any) string {
	switch n := v.(type) {
	case int:
		return fmt.Sprintf("n:%d", n)
	case int32:
		return fmt.Sprintf("n:%d", n)
	case int64:
		return fmt.Sprintf("n:%d", n)
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return fmt.Sprintf("n:%d", int64(n))
		}
		return fmt.Sprintf("f:%v", n)
	case string:
		return "s:" + n
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// Normalize converts decoded JSON numbers to int64 when integral and float64
// otherwise, recursively.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = Normalize(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = Normalize(val)
		}
		return t
	default:
		return v
	}
}

// decodeDoc parses a stored JSON document.
func decodeDoc(data string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	Normalize(doc)
	return doc, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
