package pg

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"strata/internal/dsl"
	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
)

const fixture = `
entity team:
  name: string required unique max=80
  status: enum[active,archived] default=active
  meta: json

entity member:
  email: string required
  joined: datetime default=now
  team: ref[team] on_delete=set_null
  tags: array[ref[tag]]
  constraints:
    unique(email, team_id)

entity tag:
  label: string

schema admin
entity tenant:
  id: string pk
  name: string required
  owner: ref[member]
`

func registry(t *testing.T) *model.Registry {
	t.Helper()
	decls, err := dsl.Parse(strings.NewReader(fixture))
	require.NoError(t, err)
	reg := model.NewRegistry("public", "admin")
	_, err = reg.Load(decls)
	require.NoError(t, err)
	return reg
}

func TestGenerateDDLTenantSchema(t *testing.T) {
	reg := registry(t)
	ddl, err := GenerateDDL("public", reg.TypesFor("public"), reg.Lookup)
	require.NoError(t, err)

	assert.Equal(t, "create schema if not exists \"public\";\n", ddl["000_schema"])
	assert.NotContains(t, ddl, "100_tenants")

	teams := ddl["100_teams"]
	assert.Contains(t, teams, `"id" bigserial not null`)
	assert.Contains(t, teams, `"name" varchar(80) not null`)
	assert.Contains(t, teams, `"status" text null default 'active' check ("status" in ('active', 'archived'))`)
	assert.Contains(t, teams, `"meta" jsonb null`)
	assert.Contains(t, teams, `primary key ("id")`)
	assert.Contains(t, teams, `create unique index if not exists "teams_name_uq" on "public"."teams"("name");`)

	members := ddl["100_members"]
	assert.Contains(t, members, `"joined" timestamp with time zone null default now()`)
	assert.Contains(t, members, `"team_id" bigint null`)
	assert.Contains(t, members, `create unique index if not exists "members_email_team_id_uq" on "public"."members"("email", "team_id");`)

	assert.Contains(t, ddl["100_member_tags"], `primary key ("member_id", "tag_id")`)

	fks := ddl["200_foreign_keys"]
	assert.Contains(t, fks, `alter table "public"."members" add constraint "members_team_id_fk" foreign key ("team_id") references "public"."teams"("id") on delete SET NULL;`)
	assert.Contains(t, fks, `alter table "public"."member_tags" add constraint "member_tags_member_id_fk" foreign key ("member_id") references "public"."members"("id") on delete CASCADE;`)
}

func TestGenerateDDLPinnedSkipsTenantReferences(t *testing.T) {
	reg := registry(t)
	ddl, err := GenerateDDL("admin", reg.TypesFor("admin"), reg.Lookup)
	require.NoError(t, err)

	assert.Contains(t, ddl["100_tenants"], `"id" text not null`)
	assert.Contains(t, ddl["100_tenants"], `"owner_id" bigint null`)
	assert.NotContains(t, ddl, "200_foreign_keys")
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("create table a (x int);\ncreate index i on a(x);\n")
	assert.Equal(t, []string{"create table a (x int)", "create index i on a(x)"}, got)
}

// dryTx строит SQL без подключения к базе
func dryTx(t *testing.T) *pgTx {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=strata dbname=strata sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Discard,
	})
	require.NoError(t, err)
	return &pgTx{db: db}
}

func TestWhereSQL(t *testing.T) {
	tx := dryTx(t)
	tb := store.Table{Schema: "acorp", Name: "members"}

	cases := []struct {
		name  string
		where query.Where
		want  string
	}{
		{"literal", query.Where{"email": "a@x"}, `"email" = $1`},
		{"null", query.Where{"team_id": nil}, `"team_id" IS NULL`},
		{"in", query.Where{"id": []any{int64(1), int64(2)}}, `"id" IN ($1,$2)`},
		{"empty in", query.Where{"id": []any{}}, `1 = 0`},
		{"not in", query.Where{"id": query.Cond{query.OpNotIn: []any{int64(1)}}}, `"id" NOT IN ($1)`},
		{"ilike", query.Where{"email": query.Cond{query.OpILike: "%x"}}, `"email" ILIKE $1`},
		{"regexp", query.Where{"email": query.Cond{query.OpNotIRegexp: "^a"}}, `"email" !~* $1`},
		{"between", query.Where{"id": query.Cond{query.OpBetween: []any{1, 5}}}, `"id" BETWEEN $1 AND $2`},
		{"is true", query.Where{"active": query.Cond{query.OpIs: true}}, `"active" IS TRUE`},
		{"not null", query.Where{"team_id": query.Cond{query.OpNot: nil}}, `"team_id" IS NOT NULL`},
		{"or", query.Where{"id": query.Cond{query.OpOr: []any{int64(1), int64(2)}}}, `("id" = $1 OR "id" = $2)`},
		{"range", query.Where{"id": query.Cond{query.OpGt: 1, query.OpLte: 9}}, `"id" > $1 AND "id" <= $2`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stmt := tx.scoped(context.Background(), tb, tc.where).Find(&[]map[string]any{}).Statement
			sql := stmt.SQL.String()
			assert.Contains(t, sql, `FROM "acorp"."members"`)
			assert.Contains(t, sql, tc.want)
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, escapeLike(`50%_off\`))
}

func TestEncodeDecodeRow(t *testing.T) {
	reg := registry(t)
	team, _ := reg.Lookup("team")

	cols, vals, err := encodeRow(team, store.Row{"name": "core", "meta": map[string]any{"a": 1}, "bogus": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "meta"}, cols)
	assert.Equal(t, []any{"core", `{"a":1}`}, vals)

	row := decodeRow(team, map[string]any{"id": int32(3), "name": []byte("core"), "meta": []byte(`{"a":1}`), "status": nil})
	assert.Equal(t, int64(3), row["id"])
	assert.Equal(t, "core", row["name"])
	assert.Equal(t, map[string]any{"a": float64(1)}, row["meta"])
	assert.Nil(t, row["status"])
}
