package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/dsl"
	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
)

const fixture = `
entity account:
  email: string required unique
  name: string
  age: int
`

func setup(t *testing.T) (*Storage, *model.EntityType, store.Table) {
	t.Helper()
	decls, err := dsl.Parse(strings.NewReader(fixture))
	require.NoError(t, err)
	reg := model.NewRegistry("public", "admin")
	types, err := reg.Load(decls)
	require.NoError(t, err)

	s := New(zerolog.Nop(), "public")
	require.NoError(t, s.Sync(context.Background(), "public", types))
	et, _ := reg.Lookup("account")
	return s, et, store.Table{Schema: "public", Name: et.Table}
}

func insert(t *testing.T, s *Storage, et *model.EntityType, tb store.Table, rows ...store.Row) []store.Row {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	out, err := tx.Insert(ctx, tb, et, rows, false)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return out
}

func TestInsertAssignsSerialKeys(t *testing.T) {
	s, et, tb := setup(t)
	out := insert(t, s, et, tb,
		store.Row{"email": "a@x", "age": 30.0},
		store.Row{"email": "b@x", "age": "41"},
	)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0]["id"])
	assert.Equal(t, int64(2), out[1]["id"])
	assert.Equal(t, int64(41), out[1]["age"])
	assert.Nil(t, out[0]["name"])
}

func TestInsertDuplicates(t *testing.T) {
	s, et, tb := setup(t)
	ctx := context.Background()
	insert(t, s, et, tb, store.Row{"email": "a@x"})

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Insert(ctx, tb, et, []store.Row{{"email": "a@x"}}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrDuplicateKey))
	var cerr *store.ConstraintError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "email", cerr.Column)

	out, err := tx.Insert(ctx, tb, et, []store.Row{{"email": "a@x"}, {"email": "c@x"}}, true)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Nil(t, out[0])
	assert.Equal(t, "c@x", out[1]["email"])
}

func TestInsertNotNull(t *testing.T) {
	s, et, tb := setup(t)
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	_, err := tx.Insert(ctx, tb, et, []store.Row{{"name": "nobody"}}, false)
	var cerr *store.ConstraintError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, store.ConstraintNotNull, cerr.Kind)
	assert.Equal(t, model.ErrRequired, cerr.FieldError().Code)
}

func TestFindOrderPaging(t *testing.T) {
	s, et, tb := setup(t)
	insert(t, s, et, tb,
		store.Row{"email": "a@x", "age": 30},
		store.Row{"email": "b@x", "age": 20},
		store.Row{"email": "c@x"},
		store.Row{"email": "d@x", "age": 40},
	)
	ctx := context.Background()
	tx, _ := s.Begin(ctx)

	rows, err := tx.Find(ctx, tb, et, store.Find{Order: []query.Order{{Field: "age", Desc: true}}})
	require.NoError(t, err)
	assert.Equal(t, []any{"c@x", "d@x", "a@x", "b@x"}, column(rows, "email"), "nulls first on descending order")

	one, two := 1, 2
	rows, err = tx.Find(ctx, tb, et, store.Find{
		Where:  query.Where{"age": query.Cond{query.OpGte: int64(20)}},
		Order:  []query.Order{{Field: "age"}},
		Limit:  &two,
		Offset: &one,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a@x", "d@x"}, column(rows, "email"))

	n, err := tx.Count(ctx, tb, et, query.Where{"age": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransactionIsolation(t *testing.T) {
	s, et, tb := setup(t)
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	_, err := tx.Insert(ctx, tb, et, []store.Row{{"email": "a@x"}}, false)
	require.NoError(t, err)

	other, _ := s.Begin(ctx)
	n, err := other.Count(ctx, tb, et, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "uncommitted rows are invisible")

	require.NoError(t, tx.Rollback(ctx))
	n, _ = other.Count(ctx, tb, et, nil)
	assert.Zero(t, n)
	assert.Error(t, tx.Commit(ctx))

	insert(t, s, et, tb, store.Row{"email": "b@x"})
	n, _ = other.Count(ctx, tb, et, nil)
	assert.Equal(t, int64(1), n)
}

func TestUpdateDelete(t *testing.T) {
	s, et, tb := setup(t)
	insert(t, s, et, tb, store.Row{"email": "a@x"}, store.Row{"email": "b@x"})
	ctx := context.Background()
	tx, _ := s.Begin(ctx)

	n, err := tx.Update(ctx, tb, et, query.Where{"email": "a@x"}, store.Row{"name": "Ann", "bogus": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = tx.Update(ctx, tb, et, query.Where{"email": "b@x"}, store.Row{"email": "a@x"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	n, err = tx.Delete(ctx, tb, et, query.Where{"id": []any{int64(2)}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := tx.Find(ctx, tb, et, store.Find{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ann", rows[0]["name"])
	assert.NotContains(t, rows[0], "bogus")
}

func TestResetSequence(t *testing.T) {
	s, et, tb := setup(t)
	insert(t, s, et, tb, store.Row{"id": 10, "email": "a@x"})
	ctx := context.Background()
	tx, _ := s.Begin(ctx)

	resetter, ok := tx.(store.SequenceResetter)
	require.True(t, ok)
	require.NoError(t, resetter.ResetSequence(ctx, tb, et))
	out, err := tx.Insert(ctx, tb, et, []store.Row{{"email": "b@x"}}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(11), out[0]["id"])
}

func TestSchemaLifecycle(t *testing.T) {
	s, et, _ := setup(t)
	ctx := context.Background()

	err := s.Sync(ctx, "acorp", []*model.EntityType{et})
	assert.ErrorIs(t, err, store.ErrSchemaNotFound)

	require.NoError(t, s.CreateSchema(ctx, "acorp"))
	require.NoError(t, s.Sync(ctx, "acorp", []*model.EntityType{et}))
	assert.True(t, s.HasTable("acorp", et.Table))

	require.NoError(t, s.CreateSchema(ctx, "other"))
	assert.ErrorIs(t, s.RenameSchema(ctx, "acorp", "other"), store.ErrSchemaExists)
	require.NoError(t, s.RenameSchema(ctx, "acorp", "acme"))
	assert.False(t, s.HasSchema("acorp"))
	assert.True(t, s.HasTable("acme", et.Table))

	require.NoError(t, s.DropSchema(ctx, "acme"))
	assert.False(t, s.HasSchema("acme"))

	tx, _ := s.Begin(ctx)
	_, err = tx.Find(ctx, store.Table{Schema: "acme", Name: et.Table}, et, store.Find{})
	assert.ErrorIs(t, err, store.ErrSchemaNotFound)
}

func column(rows []store.Row, col string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[col]
	}
	return out
}
