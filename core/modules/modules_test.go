package modules

import (
	"testing"

	"github.com/artpar/restmod/core/convention"
	"github.com/artpar/restmod/core/schema"
)

func TestParseAllModules(t *testing.T) {
	modules, err := schema.ParseDir(".")
	if err != nil {
		t.Fatalf("ParseDir failed: %v", err)
	}

	expected := map[string]string{
		"Game":    "games",
		"Review":  "reviews",
		"Session": "sessions",
	}

	for _, mod := range modules {
		derived := convention.Derive(mod)
		t.Logf("Loaded module: %s with %d fields, collection=%s", mod.Name, len(mod.Schema), derived.Collection)

		want, ok := expected[mod.Name]
		if !ok {
			t.Errorf("unexpected module %q", mod.Name)
			continue
		}
		if derived.Collection != want {
			t.Errorf("%s collection = %q, want %q", mod.Name, derived.Collection, want)
		}
		delete(expected, mod.Name)
	}

	for name := range expected {
		t.Errorf("Expected module %q not found", name)
	}
}

func TestSessionModuleSchema(t *testing.T) {
	mod, err := schema.ParseFile("session.yaml")
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	userName, ok := mod.Schema.Get("userName")
	if !ok || !userName.Unique || userName.IsReplied() {
		t.Errorf("userName = %+v, want unique and not replied", userName)
	}
	password, _ := mod.Schema.Get("password")
	if password == nil || !password.Secret || password.IsReplied() {
		t.Errorf("password = %+v, want secret", password)
	}
	tokens, _ := mod.Schema.Get("tokens")
	if tokens == nil || tokens.IsValidated() {
		t.Errorf("tokens = %+v, want unvalidated", tokens)
	}

	for _, op := range []schema.Operation{schema.OpGetAll, schema.OpGetOne, schema.OpUpdate} {
		if r := mod.Options.Routes.For(op); r == nil || !r.Disable {
			t.Errorf("%s route should be disabled", op)
		}
	}
	if r := mod.Options.Routes.Create; r == nil || r.Description != "创建token" {
		t.Errorf("create route = %+v", r)
	}
	if c := mod.Options.Controllers.Create; c == nil || c.Response == nil || c.Response.Schema == nil {
		t.Error("create response schema missing")
	}
}

func TestReviewJoinsGame(t *testing.T) {
	mod, err := schema.ParseFile("review.yaml")
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	game, _ := mod.Schema.Get("game")
	if game == nil || game.Join == nil || game.Join.Ref != "Game" || !game.Join.JustOne {
		t.Errorf("game join = %+v", game)
	}
}
