package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/dsl"
	"strata/internal/engine"
	"strata/internal/model"
	"strata/internal/store/memory"
)

const fixture = `
entity team:
  name: string required unique
  members: has_many[member]

entity member:
  email: string required
  secret: string
  team: ref[team]
  scope default: -secret

schema admin
entity tenant:
  id: string pk
  name: string required unique
`

func init() { gin.SetMode(gin.TestMode) }

func newServer(t *testing.T, multitenant bool) (*gin.Engine, *engine.Engine, string) {
	t.Helper()
	decls, err := dsl.Parse(strings.NewReader(fixture))
	require.NoError(t, err)
	reg := model.NewRegistry("public", "admin")
	_, err = reg.Load(decls)
	require.NoError(t, err)
	eng, err := engine.New(reg, memory.New(zerolog.Nop(), "public", "admin"), nil,
		engine.Config{Multitenant: multitenant, TenantEntity: "tenant", Separator: "$"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	require.NoError(t, eng.Migrate(context.Background()))

	dir := t.TempDir()
	return NewRouter(eng, ReloadRequest{DSLRoot: dir, EnumsRoot: filepath.Join(dir, "enums")}, zerolog.Nop()), eng, dir
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestCrudRoundTrip(t *testing.T) {
	r, _, _ := newServer(t, false)

	code, team := do(t, r, http.MethodPost, "/api/team", map[string]any{"name": "core"})
	require.Equal(t, http.StatusCreated, code)
	id := team["id"]

	code, m := do(t, r, http.MethodPost, "/api/member", map[string]any{"email": "a@x", "secret": "s", "team": id})
	require.Equal(t, http.StatusCreated, code)
	assert.NotContains(t, m, "secret")
	assert.Equal(t, "core", m["team"].(map[string]any)["name"])

	code, got := do(t, r, http.MethodGet, "/api/team/1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, got["members"], 1)

	code, got = do(t, r, http.MethodPatch, "/api/team/1", map[string]any{"name": "platform"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "platform", got["name"])

	code, got = do(t, r, http.MethodDelete, "/api/member/1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a@x", got["email"])

	code, _ = do(t, r, http.MethodGet, "/api/member/1", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListEnvelopeAndFilters(t *testing.T) {
	r, _, _ := newServer(t, false)
	code, _ := do(t, r, http.MethodPost, "/api/team/_bulk", []map[string]any{{"name": "core"}, {"name": "ops"}, {"name": "qa"}})
	require.Equal(t, http.StatusCreated, code)
	do(t, r, http.MethodPost, "/api/member", map[string]any{"email": "a@x", "team": 1})
	do(t, r, http.MethodPost, "/api/member", map[string]any{"email": "b@x", "team": 1})

	code, out := do(t, r, http.MethodGet, "/api/team?_sort=-name&_limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 3, out["total"])
	assert.EqualValues(t, 2, out["sent"])
	result := out["result"].([]any)
	assert.Equal(t, "qa", result[0].(map[string]any)["name"])

	// фильтр по to-many связи не обрезает коллекцию
	code, out = do(t, r, http.MethodGet, "/api/team?members.email=a@x", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, out["total"])
	result = out["result"].([]any)
	require.Len(t, result, 1)
	assert.Len(t, result[0].(map[string]any)["members"], 2)

	code, out = do(t, r, http.MethodGet, "/api/team/_count?name$in=core,ops", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, out["total"])

	code, out = do(t, r, http.MethodGet, "/api/member?_include=team&email=b@x", nil)
	require.Equal(t, http.StatusOK, code)
	result = out["result"].([]any)
	require.Len(t, result, 1)
	assert.Equal(t, "core", result[0].(map[string]any)["team"].(map[string]any)["name"])
}

func TestErrorMapping(t *testing.T) {
	r, _, _ := newServer(t, false)

	code, out := do(t, r, http.MethodPost, "/api/member", map[string]any{"secret": "x"})
	assert.Equal(t, http.StatusBadRequest, code)
	errs := out["errors"].([]any)
	assert.Equal(t, "email", errs[0].(map[string]any)["field"])

	do(t, r, http.MethodPost, "/api/team", map[string]any{"name": "core"})
	code, _ = do(t, r, http.MethodPost, "/api/team", map[string]any{"name": "core"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, r, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = do(t, r, http.MethodGet, "/api/member?_scope=nope", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, model.ErrUnknownScope, out["errors"].([]any)[0].(map[string]any)["code"])

	code, _ = do(t, r, http.MethodPatch, "/api/member/_bulk", map[string]any{"secret": "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = do(t, r, http.MethodPost, "/api/member/_validate?partial=true", map[string]any{"secret": "x"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["ok"])
}

func TestTransactionEndpoints(t *testing.T) {
	r, _, _ := newServer(t, false)

	code, out := do(t, r, http.MethodPost, "/api/_tx", nil)
	require.Equal(t, http.StatusCreated, code)
	tx := out["transactionId"].(string)

	code, _ = do(t, r, http.MethodPost, "/api/team", map[string]any{"name": "draft"}, headerTransaction, tx)
	require.Equal(t, http.StatusCreated, code)
	code, _ = do(t, r, http.MethodPost, "/api/_tx/"+tx+"/rollback", nil)
	require.Equal(t, http.StatusOK, code)

	_, out = do(t, r, http.MethodGet, "/api/team/_count", nil)
	assert.EqualValues(t, 0, out["total"])

	code, _ = do(t, r, http.MethodPost, "/api/_tx/"+tx+"/commit", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, r, http.MethodPost, "/api/team", map[string]any{"name": "x"}, headerTransaction, "missing")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTenantHeader(t *testing.T) {
	r, _, _ := newServer(t, true)

	code, out := do(t, r, http.MethodPost, "/api/tenant", map[string]any{"name": "Acme Corp"})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "ac", out["id"])

	code, _ = do(t, r, http.MethodPost, "/api/team", map[string]any{"name": "core"}, headerTenant, "ac")
	require.Equal(t, http.StatusCreated, code)

	_, out = do(t, r, http.MethodGet, "/api/team", nil, headerTenant, "ac")
	assert.EqualValues(t, 1, out["total"])
	_, out = do(t, r, http.MethodGet, "/api/team", nil)
	assert.EqualValues(t, 0, out["total"])
}

func TestMetaAndReload(t *testing.T) {
	r, eng, dir := newServer(t, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/_meta", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	code, meta := do(t, r, http.MethodGet, "/api/_meta/member", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "members", meta["table"])
	assert.Equal(t, []any{"secret"}, meta["scopes"].(map[string]any)["default"])
	assoc := meta["associations"].([]any)[0].(map[string]any)
	assert.Equal(t, "many-to-one", assoc["kind"])

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "enums"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "enums", "priority.yaml"), []byte("items: [{code: low}, {code: high}]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.dsl"), []byte("entity label:\n  text: string required\n  priority: enum catalog=priority\n  team: ref[team]\n"), 0o644))

	code, out := do(t, r, http.MethodPost, "/api/_admin/reload", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"label"}, out["registered"])
	_, ok := eng.Registry().Lookup("label")
	assert.True(t, ok)

	code, _ = do(t, r, http.MethodPost, "/api/label", map[string]any{"text": "x", "priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, r, http.MethodPost, "/api/label", map[string]any{"text": "x", "priority": "high", "team": nil})
	assert.Equal(t, http.StatusCreated, code)
}
