package engine

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"strata/internal/query"
	"strata/internal/store"
)

// fetch исполняет спецификацию. Если предикат попал в to-many ветку, дочерние коллекции
// первой выборки неполны: корни перечитываются по первичному ключу с деревом base.
// prune выполняется над первой выборкой, до перечитывания.
func (e *Engine) fetch(ctx context.Context, o Options, spec *query.QuerySpec, flagged bool, base []*query.IncludeNode, prune func([]store.Row) []store.Row) ([]store.Row, error) {
	var rows []store.Row
	err := e.step(ctx, o, func(tx store.Tx) error {
		var err error
		rows, err = e.x.Fetch(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if prune != nil {
		rows = prune(rows)
	}
	if !flagged || len(rows) == 0 {
		return rows, nil
	}
	return e.compensate(ctx, o, spec, rows, base)
}

func (e *Engine) compensate(ctx context.Context, o Options, spec *query.QuerySpec, rows []store.Row, base []*query.IncludeNode) ([]store.Row, error) {
	et := spec.Entity
	pk := et.PrimaryKey().Name
	keys := store.Pluck(rows, pk)
	again := &query.QuerySpec{
		Entity:  et,
		Where:   query.Where{pk: query.In(keys)},
		Include: query.CloneNodes(base),
		Order:   spec.Order,
	}
	var out []store.Row
	err := e.step(ctx, o, func(tx store.Tx) error {
		var err error
		out, err = e.x.Fetch(ctx, tx, again)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug().Str("entity", et.Name).Int("roots", len(keys)).Strs("include", query.Paths(again.Include)).Msg("compensating fetch")
	if len(spec.Order) == 0 {
		out = inOrderOf(out, keys, pk)
	}
	return out, nil
}

// inOrderOf раскладывает строки в порядке ключей первой выборки
func inOrderOf(rows []store.Row, keys []any, pk string) []store.Row {
	pos := make(map[string]int, len(keys))
	for i, k := range keys {
		pos[fmt.Sprint(k)] = i
	}
	out := make([]store.Row, len(keys))
	var extra []store.Row
	for _, r := range rows {
		if i, ok := pos[fmt.Sprint(r[pk])]; ok && out[i] == nil {
			out[i] = r
			continue
		}
		extra = append(extra, r)
	}
	return append(lo.Filter(out, func(r store.Row, _ int) bool { return r != nil }), extra...)
}

// dropEmptyBranches убирает корни, у которых отфильтрованная связь верхнего уровня пуста
func dropEmptyBranches(nodes []*query.IncludeNode) func([]store.Row) []store.Row {
	filtered := lo.Filter(nodes, func(n *query.IncludeNode, _ int) bool { return n.Required })
	if len(filtered) == 0 {
		return nil
	}
	return func(rows []store.Row) []store.Row {
		return lo.Filter(rows, func(r store.Row, _ int) bool {
			for _, n := range filtered {
				switch v := r[n.Key()].(type) {
				case nil:
					return false
				case []store.Row:
					if len(v) == 0 {
						return false
					}
				case store.Row:
					if v == nil {
						return false
					}
				}
			}
			return true
		})
	}
}
