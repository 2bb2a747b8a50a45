package projection

import (
	"strings"
	"testing"

	"github.com/artpar/restmod/core/schema"
)

func TestDefault(t *testing.T) {
	f := Default([]string{"id", "title", "content"}, nil)

	if got := f.String(); got != "-_id id title content" {
		t.Errorf("String() = %q, want %q", got, "-_id id title content")
	}
	if got := strings.Join(f.Fields(), ","); got != "id,title,content" {
		t.Errorf("Fields() = %s, want id,title,content", got)
	}
	if f.Includes(InternalID) {
		t.Error("_id should be excluded by default")
	}
}

func TestApply(t *testing.T) {
	base := Default([]string{"title", "content"}, []string{"writer"})

	tests := []struct {
		name     string
		override map[string]bool
		want     string
		virtuals string
	}{
		{"exclude title", map[string]bool{"title": false}, "-_id id content", "writer"},
		{"include _id ignored", map[string]bool{"_id": true}, "-_id id title content", "writer"},
		{"force unknown field", map[string]bool{"password": true}, "-_id id title content", "writer"},
		{"exclude id", map[string]bool{"id": false}, "-_id title content", "writer"},
		{"exclude virtual", map[string]bool{"writer": false}, "-_id id title content", ""},
		{"noop", nil, "-_id id title content", "writer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base.Apply(tt.override)
			if got := f.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := strings.Join(f.Virtuals(), ","); got != tt.virtuals {
				t.Errorf("Virtuals() = %q, want %q", got, tt.virtuals)
			}
		})
	}

	if got := base.String(); got != "-_id id title content" {
		t.Errorf("Apply modified the base filter: %q", got)
	}
}

func TestApplyCanReincludeExcluded(t *testing.T) {
	f := Default([]string{"title"}, nil).Apply(map[string]bool{"title": false}).Apply(map[string]bool{"title": true})
	if !f.Includes("title") {
		t.Error("title should be included again")
	}
}

func TestShape(t *testing.T) {
	reply := schema.Rules{
		{Name: "id", Rule: &schema.Rule{Type: schema.RuleIdentifier}},
		{Name: "title", Rule: &schema.Rule{Type: schema.RuleString}},
		{Name: "content", Rule: &schema.Rule{Type: schema.RuleString}},
	}
	virtuals := schema.Rules{
		{Name: "writer", Rule: &schema.Rule{Type: schema.RuleObject, Nullable: true}},
	}
	f := Default([]string{"id", "title", "content"}, []string{"writer"}).Apply(map[string]bool{"title": false})

	shape := Shape(f, reply, virtuals)
	if got := strings.Join(shape.Names(), ","); got != "id,content,writer" {
		t.Errorf("Shape() = %s, want id,content,writer", got)
	}
	if _, ok := shape.Get("title"); ok {
		t.Error("shape should drop the excluded title")
	}

	list := List(shape)
	if list.Type != schema.RuleArray || list.Items.Type != schema.RuleObject || len(list.Items.Fields) != 3 {
		t.Errorf("List() = %+v", list)
	}
}
