package storage

import (
	"encoding/json"
	"testing"
)

func TestProject(t *testing.T) {
	doc := map[string]any{"_id": "x", "id": int64(1), "title": "a"}

	full := Project(doc, nil)
	if len(full) != 3 {
		t.Errorf("Project(nil) has %d keys, want 3", len(full))
	}
	full["title"] = "changed"
	if doc["title"] != "a" {
		t.Error("Project should copy the document")
	}

	sel := Project(doc, []string{"id", "missing"})
	if len(sel) != 1 || sel["id"] != int64(1) {
		t.Errorf("Project(id) = %v", sel)
	}
}

func TestGetPath(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": 2}}

	if v, ok := GetPath(doc, "a.b"); !ok || v != 2 {
		t.Errorf("GetPath(a.b) = %v, %v", v, ok)
	}
	if _, ok := GetPath(doc, "a.c"); ok {
		t.Error("GetPath(a.c) should not be found")
	}
	if _, ok := GetPath(doc, "a.b.c"); ok {
		t.Error("GetPath through a scalar should not be found")
	}
}

func TestAttachMatchesAcrossNumericTypes(t *testing.T) {
	docs := []map[string]any{{"author": float64(7)}}
	targets := []map[string]any{{"id": int64(7), "name": "Ann"}}

	Attach(docs, Lookup{As: "writer", LocalField: "author", ForeignField: "id", JustOne: true}, targets)

	w, _ := docs[0]["writer"].(map[string]any)
	if w["name"] != "Ann" {
		t.Errorf("writer = %v, want Ann", docs[0]["writer"])
	}
}

func TestLocalKeys(t *testing.T) {
	docs := []map[string]any{
		{"p": []any{int64(1), int64(2)}},
		{"p": int64(2)},
		{"p": nil},
		{},
	}

	keys := LocalKeys(docs, "p")
	if len(keys) != 2 {
		t.Errorf("LocalKeys = %v, want 2 distinct keys", keys)
	}
}

func TestDecodeDocNormalizesNumbers(t *testing.T) {
	doc, err := decodeDoc(`{"id": 3, "ratio": 0.5, "nested": {"n": 4}, "list": [1, 2.5]}`)
	if err != nil {
		t.Fatalf("decodeDoc failed: %v", err)
	}

	if doc["id"] != int64(3) {
		t.Errorf("id = %#v, want int64(3)", doc["id"])
	}
	if doc["ratio"] != 0.5 {
		t.Errorf("ratio = %#v, want 0.5", doc["ratio"])
	}
	if n := doc["nested"].(map[string]any)["n"]; n != int64(4) {
		t.Errorf("nested.n = %#v, want int64(4)", n)
	}
	list := doc["list"].([]any)
	if list[0] != int64(1) || list[1] != 2.5 {
		t.Errorf("list = %#v", list)
	}

	if Normalize(json.Number("x")) != float64(0) {
		t.Error("invalid number should normalize to 0")
	}
}

func TestCondValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Cond
		wantErr bool
	}{
		{"ok", Cond{Eq("id", 1), Ne("deleted", true), In("id", 1, 2)}, false},
		{"bad op", Cond{{Field: "id", Op: "$regex", Value: "x"}}, true},
		{"bad field", Cond{Eq("a b", 1)}, true},
		{"in without list", Cond{{Field: "id", Op: OpIn, Value: 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cond.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCondAnd(t *testing.T) {
	base := Cond{Ne("deleted", true)}
	merged := base.And(Cond{Eq("id", 1)})

	if len(merged) != 2 || len(base) != 1 {
		t.Errorf("And() = %v, base = %v", merged, base)
	}
}
