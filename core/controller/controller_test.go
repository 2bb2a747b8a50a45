package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/restmod/core/apierr"
	"github.com/artpar/restmod/core/projection"
	"github.com/artpar/restmod/core/repository"
	"github.com/artpar/restmod/core/schema"
	"github.com/artpar/restmod/core/storage"
	"github.com/artpar/restmod/core/validation"
)

func gameFields() schema.Fields {
	return schema.Fields{
		{Name: "title", Field: &schema.Field{Type: schema.FieldTypeString, Required: true, Unique: true, Rule: &schema.Rule{Type: schema.RuleString}}},
		{Name: "content", Field: &schema.Field{Type: schema.FieldTypeString, Rule: &schema.Rule{Type: schema.RuleString}}},
		{Name: "owner", Field: &schema.Field{Type: schema.FieldTypeNumber, Rule: &schema.Rule{Type: schema.RuleInteger}}},
	}
}

func newGames(t *testing.T, opts Options) *Controllers {
	t.Helper()

	compiled, err := validation.Compile(gameFields())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	repo, err := repository.New(repository.Config{
		Collection: "games",
		Entity:     "Game",
		Fields:     compiled.Storage,
		Filter:     projection.Default(compiled.ReplyNames(), nil),
		Store:      store,
		HashCost:   bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}
	if err := repo.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	cs, err := Build(Config{
		Entity:     "Game",
		Collection: "games",
		Singular:   "game",
		Compiled:   compiled,
		Repo:       repo,
		Options:    opts,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return cs
}

func serve(t *testing.T, c *Controller, req *Request) (*Reply, *apierr.Error) {
	t.Helper()
	reply, err := c.Serve(context.Background(), req)
	if err != nil {
		return nil, apierr.From(err)
	}
	return reply, nil
}

func create(t *testing.T, cs *Controllers, payload map[string]any) int64 {
	t.Helper()
	reply, aErr := serve(t, cs.Create, &Request{Payload: payload})
	if aErr != nil {
		t.Fatalf("create failed: %v", aErr)
	}
	id, ok := IntOf(reply.Body.(map[string]any)["id"])
	if !ok {
		t.Fatalf("create body = %v, want integer id", reply.Body)
	}
	return id
}

func TestRoutes(t *testing.T) {
	cs := newGames(t, Options{})

	routes := cs.Routes(RouteSet{})
	want := []struct {
		method, path string
		op           schema.Operation
		description  string
	}{
		{http.MethodGet, "/games", schema.OpGetAll, "Get all games"},
		{http.MethodGet, "/games/{id}", schema.OpGetOne, "Get game by DB Id"},
		{http.MethodPut, "/games/{id}", schema.OpUpdate, "Update a game"},
		{http.MethodDelete, "/games/{id}", schema.OpRemove, "Delete game"},
		{http.MethodPost, "/games", schema.OpCreate, "Add a game"},
	}
	if len(routes) != len(want) {
		t.Fatalf("len(routes) = %d, want %d", len(routes), len(want))
	}
	for i, w := range want {
		r := routes[i]
		if r.Method != w.method || r.Path != w.path || r.Operation != w.op {
			t.Errorf("routes[%d] = %s %s %s, want %s %s %s", i, r.Method, r.Path, r.Operation, w.method, w.path, w.op)
		}
		if r.Description != w.description {
			t.Errorf("routes[%d].Description = %q, want %q", i, r.Description, w.description)
		}
		if len(r.Tags) != 2 || r.Tags[0] != "api" || r.Tags[1] != "games" {
			t.Errorf("routes[%d].Tags = %v, want [api games]", i, r.Tags)
		}
		if r.Controller == nil || r.Controller.Operation != w.op {
			t.Errorf("routes[%d] bound to wrong controller", i)
		}
	}
	if routes[1].Notes != "Returns the game object if matched with the DB id" {
		t.Errorf("getOne notes = %q", routes[1].Notes)
	}
}

func TestRoutesOverrides(t *testing.T) {
	cs := newGames(t, Options{})

	routes := cs.Routes(RouteSet{
		GetAll: &RouteOptions{Disable: true},
		GetOne: &RouteOptions{Description: "Fetch one"},
		Create: &RouteOptions{Notes: "creates", Auth: "token"},
	})
	if len(routes) != 4 {
		t.Fatalf("len(routes) = %d, want 4", len(routes))
	}
	if routes[0].Operation != schema.OpGetOne || routes[0].Description != "Fetch one" {
		t.Errorf("routes[0] = %+v, want overridden getOne", routes[0])
	}
	if routes[0].Notes != "Returns the game object if matched with the DB id" {
		t.Errorf("getOne notes = %q, want default", routes[0].Notes)
	}
	last := routes[3]
	if last.Operation != schema.OpCreate || last.Notes != "creates" || last.Auth != "token" {
		t.Errorf("create route = %+v", last)
	}
	if last.Description != "Add a game" {
		t.Errorf("create description = %q, want default", last.Description)
	}
}

func TestDefaultRules(t *testing.T) {
	cs := newGames(t, Options{})

	if cs.GetAll.Params != nil || cs.GetAll.Payload != nil {
		t.Error("getAll should accept no params or payload rules")
	}
	if r, ok := cs.GetAll.Query.Get("pageSize"); !ok || *r.Max != MaxPageSize || r.Default != int64(20) {
		t.Errorf("pageSize rule = %+v", r)
	}
	if r, ok := cs.GetAll.Query.Get("lastId"); !ok || r.Min == nil || *r.Min != 0 {
		t.Errorf("lastId rule = %+v, want min 0", r)
	}
	if r, ok := cs.GetOne.Params.Get("id"); !ok || !r.Required || r.Type != schema.RuleInteger {
		t.Errorf("id rule = %+v", r)
	}
	if r, ok := cs.Create.Payload.Get("title"); !ok || !r.Required {
		t.Errorf("create title rule = %+v, want required", r)
	}
	if r, ok := cs.Update.Payload.Get("title"); !ok || r.Required {
		t.Errorf("update title rule = %+v, want optional", r)
	}
	if _, ok := cs.Update.Payload.Get("id"); ok {
		t.Error("update payload must not accept id")
	}
	if cs.GetAll.Response.Type != schema.RuleArray {
		t.Errorf("getAll response type = %s, want array", cs.GetAll.Response.Type)
	}
	if cs.GetOne.Sample != DefaultSample {
		t.Errorf("Sample = %d, want %d", cs.GetOne.Sample, DefaultSample)
	}
}

func TestCRUD(t *testing.T) {
	cs := newGames(t, Options{})
	ctx := context.Background()

	if _, aErr := serve(t, cs.GetAll, &Request{Query: map[string]any{}}); aErr == nil || aErr.Status != http.StatusNotFound || aErr.Message != "Cannot find any game" {
		t.Fatalf("empty getAll = %v, want 404", aErr)
	}

	reply, aErr := serve(t, cs.Create, &Request{Payload: map[string]any{"title": "chess", "content": "board"}})
	if aErr != nil {
		t.Fatalf("create failed: %v", aErr)
	}
	if reply.Status != http.StatusCreated || reply.Location != "/games/1" {
		t.Errorf("create reply = %+v, want 201 at /games/1", reply)
	}
	create(t, cs, map[string]any{"title": "go"})

	reply, aErr = serve(t, cs.GetAll, &Request{Query: map[string]any{"pageSize": int64(20)}})
	if aErr != nil {
		t.Fatalf("getAll failed: %v", aErr)
	}
	docs := reply.Body.([]map[string]any)
	if len(docs) != 2 || docs[0]["title"] != "go" {
		t.Errorf("getAll = %v, want newest first", docs)
	}

	reply, aErr = serve(t, cs.GetOne, &Request{Params: map[string]any{"id": int64(1)}})
	if aErr != nil {
		t.Fatalf("getOne failed: %v", aErr)
	}
	if doc := reply.Body.(map[string]any); doc["title"] != "chess" {
		t.Errorf("getOne = %v", doc)
	}

	reply, aErr = serve(t, cs.Update, &Request{Params: map[string]any{"id": int64(1)}, Payload: map[string]any{"content": "pieces"}})
	if aErr != nil {
		t.Fatalf("update failed: %v", aErr)
	}
	if reply.Status != http.StatusCreated {
		t.Errorf("update status = %d, want 201", reply.Status)
	}
	doc, err := cs.GetOne.Repo.FindByID(ctx, 1, repository.FindOptions{})
	if err != nil || doc["content"] != "pieces" {
		t.Errorf("after update = %v, %v", doc, err)
	}

	reply, aErr = serve(t, cs.Remove, &Request{Params: map[string]any{"id": int64(1)}})
	if aErr != nil {
		t.Fatalf("remove failed: %v", aErr)
	}
	if res := reply.Body.(RemoveResult); reply.Status != http.StatusOK || res.Code != 200 || res.Message != "game removed successfully" {
		t.Errorf("remove = %d %+v", reply.Status, res)
	}

	reply, aErr = serve(t, cs.Remove, &Request{Params: map[string]any{"id": int64(1)}})
	if aErr != nil {
		t.Fatalf("second remove failed: %v", aErr)
	}
	if res := reply.Body.(RemoveResult); reply.Status != http.StatusCreated || res.Code != 201 || res.Message != "game has already removed" {
		t.Errorf("second remove = %d %+v", reply.Status, res)
	}

	for _, c := range []*Controller{cs.GetOne, cs.Update, cs.Remove} {
		_, aErr := serve(t, c, &Request{Params: map[string]any{"id": int64(99)}, Payload: map[string]any{"content": "x"}})
		if aErr == nil || aErr.Status != http.StatusNotFound || aErr.Message != "Cannot find game with that id" {
			t.Errorf("%s missing = %v, want 404", c.Operation, aErr)
		}
	}

	if _, aErr := serve(t, cs.GetOne, &Request{Params: map[string]any{"id": int64(1)}}); aErr == nil || aErr.Status != http.StatusNotFound {
		t.Errorf("getOne after delete = %v, want 404", aErr)
	}
	if _, aErr := serve(t, cs.Update, &Request{Params: map[string]any{"id": int64(1)}, Payload: map[string]any{"content": "x"}}); aErr == nil || aErr.Status != http.StatusNotFound {
		t.Errorf("update after delete = %v, want 404", aErr)
	}
}

func TestRemoveConcurrent(t *testing.T) {
	cs := newGames(t, Options{})
	create(t, cs, map[string]any{"title": "chess"})

	const n = 8
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := cs.Remove.Serve(context.Background(), &Request{Params: map[string]any{"id": int64(1)}})
			if err != nil {
				t.Errorf("remove failed: %v", err)
				return
			}
			statuses[i] = reply.Status
		}(i)
	}
	wg.Wait()

	var removed int
	for _, s := range statuses {
		switch s {
		case http.StatusOK:
			removed++
		case http.StatusCreated:
		default:
			t.Errorf("remove status = %d, want 200 or 201", s)
		}
	}
	if removed != 1 {
		t.Errorf("removes answered 200 = %d, want 1", removed)
	}
}

func TestGetAllNegativeCursor(t *testing.T) {
	cs := newGames(t, Options{})
	create(t, cs, map[string]any{"title": "chess"})

	_, aErr := serve(t, cs.GetAll, &Request{Query: map[string]any{"lastId": int64(-5)}})
	if aErr == nil || aErr.Status != http.StatusNotFound {
		t.Errorf("getAll with lastId -5 = %v, want 404", aErr)
	}
}

func TestCreateErrors(t *testing.T) {
	cs := newGames(t, Options{})
	create(t, cs, map[string]any{"title": "chess"})

	_, aErr := serve(t, cs.Create, &Request{Payload: map[string]any{"title": "chess"}})
	if aErr == nil || aErr.Status != http.StatusForbidden {
		t.Fatalf("duplicate create = %v, want 403", aErr)
	}
	if aErr.Message != "please provide another game id, it already exist" {
		t.Errorf("message = %q", aErr.Message)
	}
	if !errors.Is(aErr, storage.ErrDuplicateKey) {
		t.Error("duplicate error should wrap storage.ErrDuplicateKey")
	}

	_, aErr = serve(t, cs.Create, &Request{Payload: map[string]any{"content": "no title"}})
	if aErr == nil || aErr.Status != http.StatusForbidden || aErr.Message != "Path `title` is required." {
		t.Errorf("missing title = %v, want 403 with required message", aErr)
	}
}

func TestUpdateDuplicate(t *testing.T) {
	cs := newGames(t, Options{})
	create(t, cs, map[string]any{"title": "chess"})
	id := create(t, cs, map[string]any{"title": "go"})

	_, aErr := serve(t, cs.Update, &Request{Params: map[string]any{"id": id}, Payload: map[string]any{"title": "chess"}})
	if aErr == nil || aErr.Status != http.StatusForbidden {
		t.Errorf("duplicate update = %v, want 403", aErr)
	}
}

func TestCustomHandlerKeepsRules(t *testing.T) {
	var got *Request
	cs := newGames(t, Options{Controllers: ControllerSet{
		Create: &ControllerOptions{Handler: func(ctx context.Context, req *Request) (*Reply, error) {
			got = req
			return &Reply{Status: http.StatusCreated, Body: map[string]any{"token": "t"}}, nil
		}},
	}})

	if r, ok := cs.Create.Payload.Get("title"); !ok || !r.Required {
		t.Error("custom handler should keep generated payload rules")
	}
	if _, aErr := serve(t, cs.Create, &Request{Payload: map[string]any{"title": "x"}}); aErr != nil {
		t.Fatalf("custom create failed: %v", aErr)
	}
	if got == nil || got.Repo == nil {
		t.Error("custom handler should receive the repository")
	}
}

func TestFilterOverride(t *testing.T) {
	cs := newGames(t, Options{Controllers: ControllerSet{
		GetOne: &ControllerOptions{Filter: map[string]bool{"content": false}},
	}})
	id := create(t, cs, map[string]any{"title": "chess", "content": "board"})

	reply, aErr := serve(t, cs.GetOne, &Request{Params: map[string]any{"id": id}})
	if aErr != nil {
		t.Fatalf("getOne failed: %v", aErr)
	}
	doc := reply.Body.(map[string]any)
	if _, ok := doc["content"]; ok {
		t.Errorf("getOne = %v, content should be filtered", doc)
	}
	if _, ok := cs.GetOne.Response.Fields.Get("content"); ok {
		t.Error("response shape should follow the filter")
	}
	if _, ok := cs.GetAll.Response.Items.Fields.Get("content"); !ok {
		t.Error("getAll shape should keep content")
	}
}

func TestConditionAndSortOverride(t *testing.T) {
	owner := func(req *Request) storage.Cond {
		return storage.Cond{storage.Eq("owner", req.Query["owner"])}
	}
	cs := newGames(t, Options{Controllers: ControllerSet{
		GetAll: &ControllerOptions{
			Condition: owner,
			Sort:      func(*Request) []storage.Sort { return []storage.Sort{{Field: "id"}} },
		},
		GetOne: &ControllerOptions{Condition: owner},
	}})
	create(t, cs, map[string]any{"title": "a", "owner": int64(1)})
	create(t, cs, map[string]any{"title": "b", "owner": int64(2)})
	create(t, cs, map[string]any{"title": "c", "owner": int64(1)})

	reply, aErr := serve(t, cs.GetAll, &Request{Query: map[string]any{"owner": int64(1)}})
	if aErr != nil {
		t.Fatalf("getAll failed: %v", aErr)
	}
	docs := reply.Body.([]map[string]any)
	if len(docs) != 2 || docs[0]["title"] != "a" || docs[1]["title"] != "c" {
		t.Errorf("getAll = %v, want [a c]", docs)
	}

	if _, aErr := serve(t, cs.GetOne, &Request{Params: map[string]any{"id": int64(2)}, Query: map[string]any{"owner": int64(1)}}); aErr == nil || aErr.Status != http.StatusNotFound {
		t.Errorf("getOne outside condition = %v, want 404", aErr)
	}
}

func TestBuildErrors(t *testing.T) {
	bad := -1
	compiled, err := validation.Compile(gameFields())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	repo, err := repository.New(repository.Config{
		Collection: "games",
		Filter:     projection.Default(compiled.ReplyNames(), nil),
		Store:      &storage.SQLiteStore{},
	})
	if err != nil {
		t.Fatalf("repository.New failed: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no repo", Config{Entity: "Game", Collection: "games", Singular: "game"}},
		{"no names", Config{Entity: "Game", Repo: repo}},
		{"bad sample", Config{Entity: "Game", Collection: "games", Singular: "game", Repo: repo, Options: Options{Controllers: ControllerSet{
			GetAll: &ControllerOptions{Response: &schema.ResponseOptions{Sample: &bad}},
		}}}},
		{"bad rule", Config{Entity: "Game", Collection: "games", Singular: "game", Repo: repo, Options: Options{Controllers: ControllerSet{
			Create: &ControllerOptions{Validate: &schema.ValidateOptions{Payload: schema.Rules{{Name: "x", Rule: &schema.Rule{Type: "nope"}}}}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.cfg)
			var cfgErr *schema.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Build error = %v, want *schema.ConfigError", err)
			}
		})
	}
}

func TestFromSchemaAndMerge(t *testing.T) {
	sample := 10
	static := schema.Options{
		Routes: schema.RouteSet{GetAll: &schema.RouteOptions{Description: "List"}},
		Controllers: schema.ControllerSet{GetAll: &schema.ControllerOptions{
			Response: &schema.ResponseOptions{Sample: &sample},
			Sort:     []schema.SortKey{{Field: "title"}},
		}},
	}
	handler := func(context.Context, *Request) (*Reply, error) { return nil, nil }

	merged := Merge(FromSchema(static), Options{
		Routes:      RouteSet{GetAll: &RouteOptions{Notes: "n"}, Update: &RouteOptions{Disable: true}},
		Controllers: ControllerSet{GetAll: &ControllerOptions{Handler: handler}},
	})

	ga := merged.Routes.GetAll
	if ga == nil || ga.Description != "List" || ga.Notes != "n" {
		t.Errorf("merged getAll route = %+v", ga)
	}
	if merged.Routes.Update == nil || !merged.Routes.Update.Disable {
		t.Error("update should be disabled")
	}
	co := merged.Controllers.GetAll
	if co == nil || co.Handler == nil || co.Response == nil || *co.Response.Sample != 10 {
		t.Fatalf("merged getAll controller = %+v", co)
	}
	if sorts := co.Sort(nil); len(sorts) != 1 || sorts[0].Field != "title" || sorts[0].Desc {
		t.Errorf("sort = %v, want title asc", sorts)
	}
	if merged.Controllers.GetOne != nil {
		t.Error("getOne should stay unset")
	}
}

func TestIntOf(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(5), 5, true},
		{7, 7, true},
		{float64(3), 3, true},
		{1.5, 0, false},
		{"42", 42, true},
		{"x", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := IntOf(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("IntOf(%v) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
