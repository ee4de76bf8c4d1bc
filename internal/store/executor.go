package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"strata/internal/model"
	"strata/internal/query"
)

// Executor исполняет QuerySpec над примитивами Tx.
// Обязательные узлы include превращаются в полусоединения по ключам связи,
// поэтому пагинация корней всегда выполняется хранилищем.
// Каждый узел дерева подгружается отдельным запросом по ключам родителей, так что
// IncludeNode.Separate только описывает узел и поведение не переключает.
type Executor struct {
	reg *model.Registry
	log zerolog.Logger
}

func NewExecutor(reg *model.Registry, log zerolog.Logger) *Executor {
	return &Executor{reg: reg, log: log.With().Str("component", "executor").Logger()}
}

// Table — таблица типа в его активной схеме
func (x *Executor) Table(et *model.EntityType) Table {
	return Table{Schema: x.reg.SchemaOf(et), Name: et.Table}
}

// Fetch выбирает корни и подгружает дерево include
func (x *Executor) Fetch(ctx context.Context, tx Tx, spec *query.QuerySpec) ([]Row, error) {
	et := spec.Entity
	where, err := x.constrain(ctx, tx, et, spec.Where, spec.Include)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Find(ctx, x.Table(et), et, Find{
		Where:  where,
		Order:  spec.Order,
		Limit:  spec.Limit,
		Offset: spec.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", et.Name, err)
	}
	if err := x.load(ctx, tx, et, rows, spec.Include); err != nil {
		return nil, err
	}
	x.log.Debug().Str("entity", et.Name).Strs("include", query.Paths(spec.Include)).Int("rows", len(rows)).Msg("fetch")
	return rows, nil
}

// Count считает корни с учётом обязательных узлов include
func (x *Executor) Count(ctx context.Context, tx Tx, spec *query.QuerySpec) (int64, error) {
	where, err := x.constrain(ctx, tx, spec.Entity, spec.Where, spec.Include)
	if err != nil {
		return 0, err
	}
	return tx.Count(ctx, x.Table(spec.Entity), spec.Entity, where)
}

// constrain нормализует where и добавляет к нему ограничения обязательных узлов
func (x *Executor) constrain(ctx context.Context, tx Tx, et *model.EntityType, where query.Where, nodes []*query.IncludeNode) (query.Where, error) {
	out := NormalizeWhere(et, where)
	for _, n := range nodes {
		if !n.Required {
			continue
		}
		col, keys, err := x.semiJoin(ctx, tx, et, n)
		if err != nil {
			return nil, err
		}
		out.Add(col, query.All{query.In(keys)})
	}
	return out, nil
}

// semiJoin возвращает колонку корня и допустимые для неё значения
func (x *Executor) semiJoin(ctx context.Context, tx Tx, et *model.EntityType, n *query.IncludeNode) (string, []any, error) {
	a, target := n.Edge, n.Target
	tw, err := x.constrain(ctx, tx, target, n.Where, n.Children)
	if err != nil {
		return "", nil, err
	}
	related, err := tx.Find(ctx, x.Table(target), target, Find{Where: tw})
	if err != nil {
		return "", nil, fmt.Errorf("find %s: %w", target.Name, err)
	}

	switch a.Kind {
	case model.ManyToOne:
		return a.ForeignKey, Pluck(related, target.PrimaryKey().Name), nil
	case model.OneToOne, model.OneToMany:
		return et.PrimaryKey().Name, Pluck(related, a.ForeignKey), nil
	case model.ManyToMany:
		join := x.reg.Through(a)
		if join == nil {
			return "", nil, fmt.Errorf("association %s.%s: join entity %q not registered", a.Source, a.Name, a.Through)
		}
		links, err := tx.Find(ctx, x.Table(join), join, Find{
			Where: query.Where{a.OtherKey: query.In(Pluck(related, target.PrimaryKey().Name))},
		})
		if err != nil {
			return "", nil, fmt.Errorf("find %s: %w", join.Name, err)
		}
		return et.PrimaryKey().Name, Pluck(links, a.ForeignKey), nil
	}
	return "", nil, fmt.Errorf("association %s.%s: unsupported kind %s", a.Source, a.Name, a.Kind)
}

func (x *Executor) load(ctx context.Context, tx Tx, et *model.EntityType, rows []Row, nodes []*query.IncludeNode) error {
	if len(rows) == 0 {
		return nil
	}
	for _, n := range nodes {
		if err := x.loadNode(ctx, tx, et, rows, n); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) loadNode(ctx context.Context, tx Tx, et *model.EntityType, rows []Row, n *query.IncludeNode) error {
	a, target, key := n.Edge, n.Target, n.Key()
	tpk := target.PrimaryKey().Name
	where, err := x.constrain(ctx, tx, target, n.Where, n.Children)
	if err != nil {
		return err
	}
	find := func(w query.Where) ([]Row, error) {
		related, err := tx.Find(ctx, x.Table(target), target, Find{Where: w, Order: []query.Order{{Field: tpk}}})
		if err != nil {
			return nil, fmt.Errorf("include %s.%s: %w", et.Name, key, err)
		}
		return related, x.load(ctx, tx, target, related, n.Children)
	}

	switch a.Kind {
	case model.ManyToOne:
		where.Add(tpk, query.All{query.In(Pluck(rows, a.ForeignKey))})
		related, err := find(where)
		if err != nil {
			return err
		}
		byPK := lo.KeyBy(related, func(r Row) string { return keyOf(r[tpk]) })
		for _, r := range rows {
			if rel, ok := byPK[keyOf(r[a.ForeignKey])]; ok && r[a.ForeignKey] != nil {
				r[key] = rel
			} else {
				r[key] = nil
			}
		}

	case model.OneToOne, model.OneToMany:
		pk := et.PrimaryKey().Name
		where.Add(a.ForeignKey, query.All{query.In(Pluck(rows, pk))})
		related, err := find(where)
		if err != nil {
			return err
		}
		byOwner := lo.GroupBy(related, func(r Row) string { return keyOf(r[a.ForeignKey]) })
		for _, r := range rows {
			group := byOwner[keyOf(r[pk])]
			if a.Kind == model.OneToOne {
				if len(group) > 0 {
					r[key] = group[0]
				} else {
					r[key] = nil
				}
				continue
			}
			if group == nil {
				group = []Row{}
			}
			r[key] = group
		}

	case model.ManyToMany:
		join := x.reg.Through(a)
		if join == nil {
			return fmt.Errorf("association %s.%s: join entity %q not registered", a.Source, a.Name, a.Through)
		}
		pk := et.PrimaryKey().Name
		links, err := tx.Find(ctx, x.Table(join), join, Find{
			Where: query.Where{a.ForeignKey: query.In(Pluck(rows, pk))},
			Order: []query.Order{{Field: a.ForeignKey}, {Field: a.OtherKey}},
		})
		if err != nil {
			return fmt.Errorf("include %s.%s: %w", et.Name, key, err)
		}
		where.Add(tpk, query.All{query.In(Pluck(links, a.OtherKey))})
		related, err := find(where)
		if err != nil {
			return err
		}
		byPK := lo.KeyBy(related, func(r Row) string { return keyOf(r[tpk]) })
		byOwner := lo.GroupBy(links, func(r Row) string { return keyOf(r[a.ForeignKey]) })
		for _, r := range rows {
			items := []Row{}
			for _, link := range byOwner[keyOf(r[pk])] {
				rel, ok := byPK[keyOf(link[a.OtherKey])]
				if !ok {
					continue
				}
				item := make(Row, len(rel)+1)
				for k, v := range rel {
					item[k] = v
				}
				item[join.Name] = link
				items = append(items, item)
			}
			r[key] = items
		}
	}
	return nil
}

// ApplyScope убирает из корней атрибуты, скрытые пресетом
func ApplyScope(rows []Row, sc model.Scope) {
	for _, r := range rows {
		for _, f := range sc.Exclude {
			delete(r, f)
		}
	}
}

// Pluck — уникальные ненулевые значения колонки в порядке строк
func Pluck(rows []Row, col string) []any {
	seen := make(map[string]struct{}, len(rows))
	out := make([]any, 0, len(rows))
	for _, r := range rows {
		v := r[col]
		if v == nil {
			continue
		}
		k := keyOf(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// keyOf — ключ значения для сопоставления строк (int и int64 совпадают)
func keyOf(v any) string {
	return fmt.Sprint(v)
}
