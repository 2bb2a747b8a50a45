package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/artpar/restmod/core/apierr"
	"github.com/artpar/restmod/core/controller"
	"github.com/artpar/restmod/core/repository"
	"github.com/artpar/restmod/core/schema"
)

const gameYAML = `
module: Game
schema:
  title:
    type: string
    required: true
    rule: { type: string }
`

const reviewYAML = `
module: Review
schema:
  game:
    type: number
    required: true
    rule: { type: integer }
    join:
      virtual: gameInfo
      ref: Game
      just_one: true
      reply:
        title: { type: string }
  rating:
    type: number
    rule: { type: integer, min: 1, max: 5 }
`

const sessionYAML = `
module: Session
schema:
  userName:
    type: string
    required: true
    unique: true
    reply: false
    rule: { type: string, format: email }
  password:
    type: string
    required: true
    secret: true
    rule: { type: string, min: 6 }
options:
  routes:
    getAll: { disable: true }
    getOne: { disable: true }
    update: { disable: true }
  controllers:
    create:
      response:
        schema:
          type: object
          fields:
            token: { type: string }
`

func writeModules(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return dir
}

func newLoader(t *testing.T, hooks map[string]Hooks) *Loader {
	return &Loader{Store: newStore(t), Hooks: hooks, HashCost: bcrypt.MinCost}
}

func TestLoadDir(t *testing.T) {
	dir := writeModules(t, map[string]string{"game.yaml": gameYAML, "review.yaml": reviewYAML})

	reg, err := newLoader(t, nil).LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	if got := reg.Entities(); len(got) != 2 || got[0] != "Game" || got[1] != "Review" {
		t.Errorf("Entities() = %v", got)
	}

	routes := reg.Routes()
	if len(routes) != 10 {
		t.Fatalf("len(Routes()) = %d, want 10", len(routes))
	}
	if routes[0].Entity != "Game" || routes[0].Path != "/games" || routes[5].Path != "/reviews" {
		t.Errorf("routes not grouped by entity: %s %s, %s", routes[0].Entity, routes[0].Path, routes[5].Path)
	}
}

func TestLoadJoinPopulates(t *testing.T) {
	ctx := context.Background()
	dir := writeModules(t, map[string]string{"game.yaml": gameYAML, "review.yaml": reviewYAML})

	reg, err := newLoader(t, nil).LoadDir(ctx, dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	games, reviews := reg["Game"].Controllers, reg["Review"].Controllers
	if _, err := games.Create.Serve(ctx, &controller.Request{Payload: map[string]any{"title": "chess"}}); err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	if _, err := reviews.Create.Serve(ctx, &controller.Request{Payload: map[string]any{"game": int64(1), "rating": int64(5)}}); err != nil {
		t.Fatalf("create review failed: %v", err)
	}

	reply, err := reviews.GetOne.Serve(ctx, &controller.Request{Params: map[string]any{"id": int64(1)}})
	if err != nil {
		t.Fatalf("getOne review failed: %v", err)
	}
	doc := reply.Body.(map[string]any)
	info, ok := doc["gameInfo"].(map[string]any)
	if !ok || info["title"] != "chess" {
		t.Errorf("gameInfo = %v, want populated game", doc["gameInfo"])
	}
}

func TestLoadJoinPopulatesEveryRead(t *testing.T) {
	ctx := context.Background()
	dir := writeModules(t, map[string]string{"game.yaml": gameYAML, "review.yaml": reviewYAML})

	reg, err := newLoader(t, nil).LoadDir(ctx, dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	games, reviews := reg["Game"], reg["Review"]
	if _, err := games.Controllers.Create.Serve(ctx, &controller.Request{Payload: map[string]any{"title": "chess"}}); err != nil {
		t.Fatalf("create game failed: %v", err)
	}
	if _, err := reviews.Controllers.Create.Serve(ctx, &controller.Request{Payload: map[string]any{"game": int64(1), "rating": int64(4)}}); err != nil {
		t.Fatalf("create review failed: %v", err)
	}

	reply, err := reviews.Controllers.GetAll.Serve(ctx, &controller.Request{Query: map[string]any{}})
	if err != nil {
		t.Fatalf("getAll review failed: %v", err)
	}
	docs := reply.Body.([]map[string]any)
	if info, _ := docs[0]["gameInfo"].(map[string]any); info["title"] != "chess" {
		t.Errorf("listed gameInfo = %v, want populated game", docs[0]["gameInfo"])
	}

	updated, err := reviews.Repository.FindByIDAndUpdate(ctx, 1, map[string]any{"rating": int64(5)}, repository.FindOptions{})
	if err != nil {
		t.Fatalf("FindByIDAndUpdate failed: %v", err)
	}
	if info, _ := updated["gameInfo"].(map[string]any); info["title"] != "chess" {
		t.Errorf("updated gameInfo = %v, want populated game", updated["gameInfo"])
	}
}

const userYAML = `
module: User
schema:
  name:
    type: string
    rule: { type: string }
  email:
    type: string
    reply: false
    rule: { type: string, format: email }
  password:
    type: string
    secret: true
    rule: { type: string }
`

const postYAML = `
module: Post
schema:
  author:
    type: number
    rule: { type: integer }
    join:
      virtual: authorInfo
      ref: User
      just_one: true
`

func TestLoadJoinHidesTargetFields(t *testing.T) {
	ctx := context.Background()
	dir := writeModules(t, map[string]string{"user.yaml": userYAML, "post.yaml": postYAML})

	reg, err := newLoader(t, nil).LoadDir(ctx, dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	users, posts := reg["User"].Controllers, reg["Post"].Controllers
	if _, err := users.Create.Serve(ctx, &controller.Request{Payload: map[string]any{
		"name": "al", "email": "a@b.co", "password": "hunter22",
	}}); err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if _, err := posts.Create.Serve(ctx, &controller.Request{Payload: map[string]any{"author": int64(1)}}); err != nil {
		t.Fatalf("create post failed: %v", err)
	}

	reply, err := posts.GetAll.Serve(ctx, &controller.Request{Query: map[string]any{}})
	if err != nil {
		t.Fatalf("getAll post failed: %v", err)
	}
	info, ok := reply.Body.([]map[string]any)[0]["authorInfo"].(map[string]any)
	if !ok {
		t.Fatalf("authorInfo = %v, want populated user", reply.Body)
	}
	if info["name"] != "al" {
		t.Errorf("authorInfo name = %v, want al", info["name"])
	}
	for _, hidden := range []string{"_id", "email", "password", "deleted"} {
		if _, ok := info[hidden]; ok {
			t.Errorf("authorInfo exposes %q: %v", hidden, info)
		}
	}

	authorRule, _ := reg["Post"].Plan.Virtuals().Get("authorInfo")
	if got := authorRule.Fields.Names(); len(got) != 2 || got[0] != "id" || got[1] != "name" {
		t.Errorf("authorInfo fields = %v, want [id name]", got)
	}
}

func TestLoadJoinRejectsHiddenReplyField(t *testing.T) {
	post := `
module: Post
schema:
  author:
    type: number
    rule: { type: integer }
    join:
      virtual: authorInfo
      ref: User
      reply:
        password: { type: string }
`
	dir := writeModules(t, map[string]string{"user.yaml": userYAML, "post.yaml": post})

	_, err := newLoader(t, nil).LoadDir(context.Background(), dir)
	var cfgErr *schema.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("LoadDir() error = %v, want *schema.ConfigError", err)
	}
}

func TestLoadSessionHandler(t *testing.T) {
	ctx := context.Background()
	dir := writeModules(t, map[string]string{"session.yaml": sessionYAML})

	initialized := false
	hooks := map[string]Hooks{
		"Session": {
			Options: controller.Options{Controllers: controller.ControllerSet{
				Create: &controller.ControllerOptions{Handler: func(ctx context.Context, req *controller.Request) (*controller.Reply, error) {
					doc, err := req.Repo.Create(ctx, req.Payload)
					if err != nil {
						return nil, apierr.Internal(err.Error(), err)
					}
					id := doc["id"]
					return &controller.Reply{
						Status:   http.StatusCreated,
						Body:     map[string]any{"token": fmt.Sprint(id)},
						Location: fmt.Sprintf("/%v", id),
					}, nil
				}},
			}},
			Init: func(ctx context.Context, b *Bundle) error {
				initialized = true
				return nil
			},
		},
	}

	reg, err := newLoader(t, hooks).LoadDir(ctx, dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if !initialized {
		t.Error("Init hook did not run")
	}

	b := reg["Session"]
	if len(b.Routes) != 2 || b.Routes[0].Operation != schema.OpRemove || b.Routes[1].Operation != schema.OpCreate {
		t.Errorf("session routes = %v, want remove and create", b.Routes)
	}

	create := b.Controllers.Create
	if r, ok := create.Payload.Get("password"); !ok || !r.Required {
		t.Error("generated payload rules should survive a custom handler")
	}
	if _, ok := create.Response.Fields.Get("token"); !ok {
		t.Error("response schema should come from the module file")
	}

	reply, err := create.Serve(ctx, &controller.Request{Payload: map[string]any{"userName": "a@b.co", "password": "secret1"}})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	if reply.Status != http.StatusCreated || reply.Location != "/1" {
		t.Errorf("reply = %+v", reply)
	}
	if tok := reply.Body.(map[string]any)["token"]; tok != "1" {
		t.Errorf("token = %v, want \"1\"", tok)
	}

	rec, err := b.Repository.FindByIDNoLean(ctx, 1, nil)
	if err != nil || rec == nil {
		t.Fatalf("FindByIDNoLean = %v, %v", rec, err)
	}
	hash, _ := rec.Get("password").(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret1")) != nil {
		t.Error("password should be stored as a bcrypt hash")
	}
}

func TestLoadErrors(t *testing.T) {
	dupGame := `
module: Game
collection: games
schema:
  name: { type: string }
`
	otherCollection := `
module: Match
collection: games
schema:
  name: { type: string }
`

	t.Run("duplicate entity", func(t *testing.T) {
		dir := writeModules(t, map[string]string{"a.yaml": gameYAML, "b.yaml": dupGame})
		_, err := newLoader(t, nil).LoadDir(context.Background(), dir)
		var conflict *ConflictError
		if !errors.As(err, &conflict) || conflict.Conflicts[0].Kind != "entity" {
			t.Errorf("err = %v, want entity conflict", err)
		}
	})

	t.Run("duplicate collection", func(t *testing.T) {
		dir := writeModules(t, map[string]string{"a.yaml": gameYAML, "b.yaml": otherCollection})
		_, err := newLoader(t, nil).LoadDir(context.Background(), dir)
		var conflict *ConflictError
		if !errors.As(err, &conflict) || conflict.Conflicts[0].Kind != "collection" {
			t.Errorf("err = %v, want collection conflict", err)
		}
	})

	t.Run("unknown join target", func(t *testing.T) {
		dir := writeModules(t, map[string]string{"review.yaml": reviewYAML})
		_, err := newLoader(t, nil).LoadDir(context.Background(), dir)
		var cfgErr *schema.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("err = %v, want *schema.ConfigError", err)
		}
	})

	t.Run("hooks for unknown entity", func(t *testing.T) {
		dir := writeModules(t, map[string]string{"game.yaml": gameYAML})
		_, err := newLoader(t, map[string]Hooks{"Ghost": {}}).LoadDir(context.Background(), dir)
		var cfgErr *schema.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("err = %v, want *schema.ConfigError", err)
		}
	})

	t.Run("init failure", func(t *testing.T) {
		dir := writeModules(t, map[string]string{"game.yaml": gameYAML})
		boom := errors.New("boom")
		_, err := newLoader(t, map[string]Hooks{"Game": {Init: func(context.Context, *Bundle) error { return boom }}}).LoadDir(context.Background(), dir)
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
	})
}
