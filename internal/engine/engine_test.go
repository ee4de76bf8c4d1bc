package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/bus"
	"strata/internal/dsl"
	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
	"strata/internal/store/memory"
)

const fixture = `
entity team:
  name: string required unique
  members: has_many[member]

entity member:
  email: string required
  note: string
  team: ref[team]
  projects: array[ref[project]] through=membership
  scope brief: -note

entity project:
  title: string required

entity membership:
  member_id: int pk
  project_id: int pk
  role: string

schema admin
entity tenant:
  id: string pk
  name: string required unique
`

func newEngine(t *testing.T, multitenant bool, b bus.Bus) (*Engine, *memory.Storage) {
	t.Helper()
	s := memory.New(zerolog.Nop(), "public", "admin")
	return newEngineWith(t, s, multitenant, b), s
}

func newEngineWith(t *testing.T, s store.Storage, multitenant bool, b bus.Bus) *Engine {
	t.Helper()
	decls, err := dsl.Parse(strings.NewReader(fixture))
	require.NoError(t, err)
	reg := model.NewRegistry("public", "admin")
	_, err = reg.Load(decls)
	require.NoError(t, err)

	e, err := New(reg, s, b, Config{Multitenant: multitenant, TenantEntity: "tenant", Separator: "$"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(e.Close)
	require.NoError(t, e.Migrate(context.Background()))
	return e
}

// failingInserts отклоняет вставки в таблицу table, пока взведён fail
type failingInserts struct {
	*memory.Storage
	table string
	fail  atomic.Bool
}

func (f *failingInserts) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := f.Storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, owner: f}, nil
}

type failingTx struct {
	store.Tx
	owner *failingInserts
}

func (t *failingTx) Insert(ctx context.Context, tb store.Table, et *model.EntityType, rows []store.Row, ignoreDuplicates bool) ([]store.Row, error) {
	if t.owner.fail.Load() && tb.Name == t.owner.table {
		return nil, errors.New("insert rejected")
	}
	return t.Tx.Insert(ctx, tb, et, rows, ignoreDuplicates)
}

type fixtureIDs struct {
	core, ops any
}

// seed: core(a@x, b@x), ops(c@x)
func seed(t *testing.T, e *Engine, o Options) fixtureIDs {
	t.Helper()
	ctx := context.Background()
	core, err := e.Create(ctx, "team", Entity{"name": "core"}, o)
	require.NoError(t, err)
	ops, err := e.Create(ctx, "team", Entity{"name": "ops"}, o)
	require.NoError(t, err)
	for _, m := range []Entity{
		{"email": "a@x", "team_id": core["id"]},
		{"email": "b@x", "team_id": core["id"]},
		{"email": "c@x", "team_id": ops["id"]},
	} {
		_, err := e.Create(ctx, "member", m, o)
		require.NoError(t, err)
	}
	return fixtureIDs{core: core["id"], ops: ops["id"]}
}

func emails(t *testing.T, v any) []string {
	t.Helper()
	rows, ok := v.([]map[string]any)
	require.True(t, ok, "expected a collection, got %T", v)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprint(r["email"]))
	}
	return out
}

func TestFilteredToManyKeepsSiblings(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	seed(t, e, Options{})

	teams, err := e.List(ctx, "team", map[string]any{"members.email": "a@x"}, ListOptions{}, Options{})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "core", teams[0]["name"])
	assert.ElementsMatch(t, []string{"a@x", "b@x"}, emails(t, teams[0]["members"]))

	team, err := e.Read(ctx, "team", map[string]any{"members.email": "b@x"}, Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a@x", "b@x"}, emails(t, team["members"]))
}

func TestListOrderAndPaging(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	seed(t, e, Options{})

	teams, err := e.List(ctx, "team", map[string]any{"members.email$like": "%@x"}, ListOptions{Order: "-name", Limit: "1"}, Options{})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "ops", teams[0]["name"])
	assert.Equal(t, []string{"c@x"}, emails(t, teams[0]["members"]))

	teams, err = e.List(ctx, "team", nil, ListOptions{Order: "name", Offset: "1", Limit: "x"}, Options{})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, "ops", teams[0]["name"])
}

func TestListIncludeOverride(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	seed(t, e, Options{})

	members, err := e.List(ctx, "member", map[string]any{"email": "a@x"}, ListOptions{Include: []query.IncludeSpec{query.Named{Name: "team"}}}, Options{})
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "core", members[0]["team"].(map[string]any)["name"])
	assert.NotContains(t, members[0], "projects")

	_, err = e.List(ctx, "member", nil, ListOptions{Include: []query.IncludeSpec{query.Named{Name: "bogus"}}}, Options{})
	assert.Equal(t, ValidationFailed, KindOf(err))
}

func TestCountAgreesWithFetch(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	seed(t, e, Options{})

	plain, err := e.Count(ctx, "team", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), plain)

	joined, err := e.Count(ctx, "team", map[string]any{"members.email$like": "%@x"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, plain, joined, "association predicate matching every row")

	n, err := e.Count(ctx, "team", map[string]any{"members.email": "a@x"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = e.Count(ctx, "member", map[string]any{"team.name": "core", "email$ne": "a@x"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = e.Count(ctx, "team", map[string]any{"name": "core"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAssociationPairsCarryThroughAttributes(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()

	p1, err := e.Create(ctx, "project", Entity{"title": "alpha"}, Options{})
	require.NoError(t, err)
	p2, err := e.Create(ctx, "project", Entity{"title": "beta"}, Options{})
	require.NoError(t, err)
	m, err := e.Create(ctx, "member", Entity{"email": "a@x"}, Options{})
	require.NoError(t, err)

	updated, _, err := e.Update(ctx, "member", map[string]any{"id": m["id"]}, Entity{
		"projects": []any{
			[]any{p1["id"], map[string]any{"role": "x"}},
			[]any{p2["id"], map[string]any{"role": "y"}},
		},
	}, Options{})
	require.NoError(t, err)

	projects, ok := updated["projects"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, projects, 2)
	roles := map[string]any{}
	for _, p := range projects {
		roles[fmt.Sprint(p["title"])] = p["membership"].(map[string]any)["role"]
	}
	assert.Equal(t, map[string]any{"alpha": "x", "beta": "y"}, roles)

	// простой список ключей заменяет набор целиком
	updated, _, err = e.Update(ctx, "member", map[string]any{"id": m["id"]}, Entity{"projects": []any{p2["id"]}}, Options{})
	require.NoError(t, err)
	projects = updated["projects"].([]map[string]any)
	require.Len(t, projects, 1)
	assert.Equal(t, "beta", projects[0]["title"])
	assert.Nil(t, projects[0]["membership"].(map[string]any)["role"])
}

func TestCreateWithScalarAssociation(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	ids := seed(t, e, Options{})

	m, err := e.Create(ctx, "member", Entity{"email": "d@x", "team": ids.ops}, Options{})
	require.NoError(t, err)
	assert.Equal(t, ids.ops, m["team_id"])
	assert.Equal(t, "ops", m["team"].(map[string]any)["name"])

	m, err = e.Create(ctx, "member", Entity{"email": "e@x", "team": ids.ops}, Options{SkipAssociations: true})
	require.NoError(t, err)
	assert.Nil(t, m["team_id"])
}

func TestCreateNestedEntities(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()

	dto := Entity{
		"email":    "n@x",
		"team":     map[string]any{"name": "nested"},
		"projects": []any{map[string]any{"title": "p1"}, map[string]any{"title": "p2"}},
	}
	m, err := e.Create(ctx, "member", dto, Options{CreateNestedEntities: true})
	require.NoError(t, err)
	assert.Equal(t, "nested", m["team"].(map[string]any)["name"])
	assert.Len(t, m["projects"], 2)

	m, err = e.Create(ctx, "member", Entity{"email": "o@x", "team": map[string]any{"name": "ignored"}}, Options{})
	require.NoError(t, err)
	assert.Nil(t, m["team"])
	n, err := e.Count(ctx, "team", map[string]any{"name": "ignored"}, Options{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateByChangedField(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	seed(t, e, Options{})

	updated, previous, err := e.Update(ctx, "team", map[string]any{"name": "core"}, Entity{"name": "platform"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "platform", updated["name"])
	assert.Equal(t, "core", previous["name"])
	assert.Equal(t, previous["id"], updated["id"])
	assert.Len(t, updated["members"], 2)

	_, _, err = e.Update(ctx, "team", map[string]any{"name": "ops"}, Entity{"name": "platform"}, Options{})
	require.Error(t, err)
	assert.Equal(t, ValidationFailed, KindOf(err))
	assert.Equal(t, model.ErrUniqueViolation, FieldsOf(err)[0].Code)
}

func TestBulkUpdate(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	ids := seed(t, e, Options{})

	updated, previous, err := e.BulkUpdate(ctx, "member", map[string]any{"team_id": ids.core}, Entity{"note": "moved"}, Options{})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	require.Len(t, previous, 2)
	for _, m := range updated {
		assert.Equal(t, "moved", m["note"])
	}
	assert.Nil(t, previous[0]["note"])

	_, _, err = e.BulkUpdate(ctx, "member", map[string]any{"email": "nobody"}, Entity{"note": "x"}, Options{})
	assert.Equal(t, NotFound, KindOf(err))
}

func TestDeleteReturnsSnapshot(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	seed(t, e, Options{})

	deleted, err := e.Delete(ctx, "member", map[string]any{"email": "c@x"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "c@x", deleted["email"])
	assert.Equal(t, "ops", deleted["team"].(map[string]any)["name"])

	n, err := e.Count(ctx, "member", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestNotFound(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()

	_, err := e.Read(ctx, "team", map[string]any{"id": 999}, Options{})
	assert.Equal(t, NotFound, KindOf(err))
	_, _, err = e.Update(ctx, "team", map[string]any{"id": 999}, Entity{"name": "x"}, Options{})
	assert.Equal(t, NotFound, KindOf(err))
	_, err = e.Delete(ctx, "team", map[string]any{"id": 999}, Options{})
	assert.Equal(t, NotFound, KindOf(err))
	_, err = e.List(ctx, "nope", nil, ListOptions{}, Options{})
	assert.Equal(t, NotFound, KindOf(err))
}

func TestValidationAndScopes(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()

	_, err := e.Create(ctx, "member", Entity{"note": "x"}, Options{})
	require.Error(t, err)
	assert.Equal(t, ValidationFailed, KindOf(err))
	assert.Equal(t, "email", FieldsOf(err)[0].Field)

	errs, err := e.Validate(ctx, "member", Entity{"note": "x"}, false, Options{})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, model.ErrRequired, errs[0].Code)

	errs, err = e.Validate(ctx, "member", Entity{"note": "x"}, true, Options{})
	require.NoError(t, err)
	assert.Empty(t, errs)

	_, err = e.Create(ctx, "member", Entity{"email": "a@x", "note": "secret"}, Options{})
	require.NoError(t, err)
	brief, err := e.List(ctx, "member", nil, ListOptions{}, Options{Scope: "brief"})
	require.NoError(t, err)
	require.Len(t, brief, 1)
	assert.NotContains(t, brief[0], "note")
	assert.Equal(t, "a@x", brief[0]["email"])

	_, err = e.List(ctx, "member", nil, ListOptions{}, Options{Scope: "nope"})
	assert.Equal(t, ValidationFailed, KindOf(err))
	assert.Equal(t, model.ErrUnknownScope, FieldsOf(err)[0].Code)
}

func TestBulkCreateIgnoresDuplicates(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()
	keep := Options{KeepAutoID: true}

	out, err := e.BulkCreate(ctx, "team", []Entity{{"id": 1, "name": "core"}, {"id": 2, "name": "ops"}}, keep)
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = e.BulkCreate(ctx, "team", []Entity{{"id": 1, "name": "core"}, {"id": 3, "name": "qa"}}, keep)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "core", out[0]["name"])
	assert.Equal(t, "qa", out[1]["name"])

	n, err := e.Count(ctx, "team", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// последовательность подтянута к максимальному ключу
	next, err := e.Create(ctx, "team", Entity{"id": 100, "name": "next"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), next["id"])

	_, err = e.BulkCreate(ctx, "team", []Entity{{"name": "ok"}, {}}, Options{})
	require.Error(t, err)
	assert.Equal(t, "1.name", FieldsOf(err)[0].Field)
}

func TestTransactions(t *testing.T) {
	e, _ := newEngine(t, false, nil)
	ctx := context.Background()

	id, err := e.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = e.Create(ctx, "team", Entity{"name": "draft"}, Options{TransactionID: id})
	require.NoError(t, err)
	n, err := e.Count(ctx, "team", nil, Options{TransactionID: id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, e.Rollback(ctx, id))

	n, err = e.Count(ctx, "team", nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, n)

	id, err = e.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = e.Create(ctx, "team", Entity{"name": "kept"}, Options{TransactionID: id})
	require.NoError(t, err)
	require.NoError(t, e.Commit(ctx, id))
	n, err = e.Count(ctx, "team", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.Create(ctx, "team", Entity{"name": "x"}, Options{TransactionID: "missing"})
	assert.True(t, errors.Is(err, store.ErrUnknownTransaction))
	assert.Equal(t, NotFound, KindOf(e.Commit(ctx, "missing")))
}

func TestTenantLifecycle(t *testing.T) {
	e, s := newEngine(t, true, nil)
	ctx := context.Background()

	acme, err := e.Create(ctx, "tenant", Entity{"name": "Acme Corp"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ac", acme["id"])
	assert.True(t, s.HasSchema("ac"))
	assert.True(t, s.HasTable("ac", "teams"))
	assert.False(t, s.HasTable("ac", "tenants"))

	_, err = e.Create(ctx, "tenant", Entity{"name": "Acme Corp"}, Options{})
	assert.Equal(t, ValidationFailed, KindOf(err))
	assert.True(t, s.HasSchema("ac"), "duplicate must not drop the existing schema")

	_, err = e.Create(ctx, "team", Entity{"name": "core"}, Options{Tenant: "ac"})
	require.NoError(t, err)
	n, err := e.Count(ctx, "team", nil, Options{Tenant: "ac"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = e.Count(ctx, "team", nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, n, "default schema untouched")

	updated, previous, err := e.Update(ctx, "tenant", map[string]any{"id": "ac"}, Entity{"name": "Acme Group"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "ac", previous["id"])
	assert.Equal(t, "ag", updated["id"])
	assert.False(t, s.HasSchema("ac"))
	assert.True(t, s.HasSchema("ag"))
	n, err = e.Count(ctx, "team", nil, Options{Tenant: "ag"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "rows travel with the renamed schema")

	deleted, err := e.Delete(ctx, "tenant", map[string]any{"id": "ag"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Acme Group", deleted["name"])
	assert.False(t, s.HasSchema("ag"))
}

func TestTenantBulkCreateAndAdmin(t *testing.T) {
	e, s := newEngine(t, true, nil)
	ctx := context.Background()

	out, err := e.BulkCreate(ctx, "tenant", []Entity{{"name": "Beta Co"}, {"id": "admin", "name": "admin"}}, Options{KeepTenantID: true})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, s.HasTable("bc", "members"))
	assert.True(t, s.HasTable("admin", "tenants"))
	assert.False(t, s.HasTable("admin", "teams"), "admin schema holds pinned types only")

	_, err = e.Delete(ctx, "tenant", map[string]any{"id": "admin"}, Options{})
	assert.Error(t, err)
	assert.True(t, s.HasSchema("admin"))
}

func TestTenantSchemasRolledBackOnFailedInsert(t *testing.T) {
	s := &failingInserts{Storage: memory.New(zerolog.Nop(), "public", "admin"), table: "tenants"}
	e := newEngineWith(t, s, true, nil)
	ctx := context.Background()

	_, err := e.Create(ctx, "tenant", Entity{"name": "Acme Corp"}, Options{})
	require.NoError(t, err)

	s.fail.Store(true)
	_, err = e.BulkCreate(ctx, "tenant", []Entity{{"name": "Acme Corp"}, {"name": "Beta Co"}, {"name": "Beta Co"}}, Options{})
	require.Error(t, err)
	assert.True(t, s.HasSchema("ac"), "schema of a registered tenant survives")
	assert.False(t, s.HasSchema("bc"))

	_, err = e.Create(ctx, "tenant", Entity{"name": "Beta Co"}, Options{})
	require.Error(t, err)
	assert.False(t, s.HasSchema("bc"))

	s.fail.Store(false)
	out, err := e.BulkCreate(ctx, "tenant", []Entity{{"name": "Acme Corp"}, {"name": "Beta Co"}}, Options{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.True(t, s.HasTable("bc", "teams"))
}

func TestTenantBulkUpdate(t *testing.T) {
	e, s := newEngine(t, true, nil)
	ctx := context.Background()
	for _, name := range []string{"Acme Corp", "Beta Co"} {
		_, err := e.Create(ctx, "tenant", Entity{"name": name}, Options{})
		require.NoError(t, err)
	}

	_, _, err := e.BulkUpdate(ctx, "tenant", nil, Entity{"name": "Same Name"}, Options{})
	assert.Equal(t, ValidationFailed, KindOf(err))
	_, _, err = e.BulkUpdate(ctx, "tenant", nil, Entity{"id": "zz"}, Options{KeepTenantID: true})
	assert.Equal(t, ValidationFailed, KindOf(err))
	assert.True(t, s.HasSchema("ac"))
	assert.True(t, s.HasSchema("bc"))
	assert.False(t, s.HasSchema("sn"))

	// под фильтром одна запись: ключ выводится заново, схема переименовывается
	updated, previous, err := e.BulkUpdate(ctx, "tenant", map[string]any{"id": "bc"}, Entity{"name": "Beta Group"}, Options{})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "bc", previous[0]["id"])
	assert.Equal(t, "bg", updated[0]["id"])
	assert.False(t, s.HasSchema("bc"))
	assert.True(t, s.HasSchema("bg"))

	n, err := e.Count(ctx, "tenant", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSerializedTenantsDoNotMix(t *testing.T) {
	e, _ := newEngine(t, true, nil)
	ctx := context.Background()
	for _, name := range []string{"Acme Corp", "Beta Co"} {
		_, err := e.Create(ctx, "tenant", Entity{"name": name}, Options{})
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tenant := []string{"ac", "bc"}[i%2]
			_, err := e.Create(ctx, "team", Entity{"name": fmt.Sprintf("t%d", i)}, Options{Tenant: tenant})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Empty(t, errs)

	for _, tenant := range []string{"ac", "bc"} {
		n, err := e.Count(ctx, "team", nil, Options{Tenant: tenant})
		require.NoError(t, err)
		assert.Equal(t, int64(10), n, tenant)
	}
}

func TestRegisterAtRuntime(t *testing.T) {
	e, s := newEngine(t, false, nil)
	ctx := context.Background()
	ids := seed(t, e, Options{})

	decls, err := dsl.Parse(strings.NewReader("entity label:\n  text: string required\n  team: ref[team]\n"))
	require.NoError(t, err)
	types, err := e.Register(ctx, decls)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.True(t, s.HasTable("public", "labels"))

	label, err := e.Create(ctx, "label", Entity{"text": "urgent", "team": ids.core}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "core", label["team"].(map[string]any)["name"])

	_, err = e.Register(ctx, decls)
	assert.Equal(t, Configuration, KindOf(err))
}

func TestNotifications(t *testing.T) {
	b := bus.NewMemory(zerolog.Nop())
	e, _ := newEngine(t, false, b)
	ctx := context.Background()

	got := make(chan Event, 4)
	listen := func(topic string) {
		require.NoError(t, b.Subscribe(ctx, topic, func(ctx context.Context, payload []byte) error {
			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				return err
			}
			got <- ev
			return nil
		}))
	}
	listen("team create")
	listen("create error")

	_, err := e.Create(ctx, "team", Entity{"name": "core"}, Options{})
	require.NoError(t, err)
	ev := receive(t, got)
	assert.Equal(t, "team", ev.Entity)
	assert.Equal(t, "create", ev.Action)
	assert.Equal(t, "core", ev.Data.(map[string]any)["name"])

	_, err = e.Create(ctx, "team", Entity{}, Options{})
	require.Error(t, err)
	ev = receive(t, got)
	assert.NotEmpty(t, ev.Error)
	assert.Nil(t, ev.Data)
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"response", "team response", "bulk create", "team bulk create"}, Topics("Team", "bulk create", false))
	assert.Equal(t, []string{"response error", "team response error", "delete error", "team delete error"}, Topics("team", "delete", true))
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}
