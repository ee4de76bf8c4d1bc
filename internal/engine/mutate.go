package engine

import (
	"context"
	"fmt"
	"sort"

	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
)

// associate применяет значения связей к сущности и перечитывает её с деревом действия.
//
// Значение вида [[id, {attrs}], [id, {attrs}], ...] несёт атрибуты join-записи:
// первая пара заменяет набор связей, последующие добавляются к нему.
// Любое другое значение (ключ, список ключей, nil) заменяет набор целиком.
func (e *Engine) associate(ctx context.Context, et *model.EntityType, entity Entity, values map[string]any, o Options, act query.Action) (Entity, error) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		a, ok := et.Association(name)
		if !ok {
			continue
		}
		target := e.reg.Target(a)
		links, paired, ferr := parseLinks(target, name, values[name])
		if ferr != nil {
			return nil, invalid(et, string(act), []model.FieldError{*ferr})
		}

		if !paired {
			if err := e.step(ctx, o, func(tx store.Tx) error {
				return e.x.SetAssociation(ctx, tx, et, entity, a, links)
			}); err != nil {
				return nil, wrap(et, string(act), err)
			}
			continue
		}
		for i, l := range links {
			one := []store.Link{l}
			err := e.step(ctx, o, func(tx store.Tx) error {
				if i == 0 {
					return e.x.SetAssociation(ctx, tx, et, entity, a, one)
				}
				return e.x.AddAssociation(ctx, tx, et, entity, a, one)
			})
			if err != nil {
				return nil, wrap(et, string(act), err)
			}
		}
	}
	return e.reload(ctx, et, entity, o, act)
}

// reload перечитывает запись по первичному ключу
func (e *Engine) reload(ctx context.Context, et *model.EntityType, entity Entity, o Options, act query.Action) (Entity, error) {
	pk := et.PrimaryKey().Name
	rows, err := e.byKeys(ctx, et, []any{entity[pk]}, o, act)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(et, string(act), "entity %v does not exist", entity[pk])
	}
	return rows[0], nil
}

// byKeys — выборка по списку первичных ключей с деревом действия
func (e *Engine) byKeys(ctx context.Context, et *model.EntityType, keys []any, o Options, act query.Action) ([]store.Row, error) {
	pk := et.PrimaryKey().Name
	spec := &query.QuerySpec{
		Entity:  et,
		Where:   query.Where{pk: query.In(keys)},
		Include: query.CloneNodes(e.include(et, act)),
	}
	var rows []store.Row
	err := e.step(ctx, o, func(tx store.Tx) error {
		var err error
		rows, err = e.x.Fetch(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, wrap(et, string(act), err)
	}
	return inOrderOf(rows, keys, pk), nil
}

// parseLinks разбирает значение связи из DTO; ключи приводятся к типу первичного ключа цели
func parseLinks(target *model.EntityType, field string, v any) ([]store.Link, bool, *model.FieldError) {
	pk := target.PrimaryKey()
	key := func(raw any) (any, *model.FieldError) {
		k, err := model.Coerce(pk, raw)
		if err != nil {
			fe := model.Ferr(model.ErrTypeMismatch, field, fmt.Sprintf("Field '%s' %s", field, err), "")
			return nil, &fe
		}
		return k, nil
	}

	list, isList := v.([]any)
	if !isList {
		if v == nil {
			return nil, false, nil
		}
		k, ferr := key(v)
		if ferr != nil {
			return nil, false, ferr
		}
		return []store.Link{{Key: k}}, false, nil
	}

	if isPairList(list) {
		out := make([]store.Link, 0, len(list))
		for _, it := range list {
			pair := it.([]any)
			k, ferr := key(pair[0])
			if ferr != nil {
				return nil, false, ferr
			}
			through, _ := pair[1].(map[string]any)
			out = append(out, store.Link{Key: k, Through: through})
		}
		return out, true, nil
	}

	out := make([]store.Link, 0, len(list))
	for _, it := range list {
		if it == nil {
			continue
		}
		k, ferr := key(it)
		if ferr != nil {
			return nil, false, ferr
		}
		out = append(out, store.Link{Key: k})
	}
	return out, false, nil
}

// isPairList: непустой список пар [id, {attrs}]
func isPairList(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, it := range list {
		pair, ok := it.([]any)
		if !ok || len(pair) != 2 {
			return false
		}
		if _, ok := pair[1].(map[string]any); !ok && pair[1] != nil {
			return false
		}
	}
	return true
}

// isNested — значение связи описывает вложенную сущность (объект или список объектов)
func isNested(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return true
	case []any:
		if len(t) == 0 {
			return false
		}
		for _, it := range t {
			if _, ok := it.(map[string]any); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// splitDTO раскладывает DTO: атрибуты, ссылки на связи (ключи, списки, пары) и вложенные сущности
func splitDTO(et *model.EntityType, dto Entity) (attrs Entity, links map[string]any, nested map[string]any) {
	attrs, links, nested = Entity{}, map[string]any{}, map[string]any{}
	for k, v := range dto {
		if a, ok := et.Association(k); ok {
			if isNested(v) {
				nested[a.Name] = v
			} else {
				links[a.Name] = v
			}
			continue
		}
		if et.HasAttribute(k) {
			attrs[k] = v
		}
	}
	return attrs, links, nested
}

// stripAutoID убирает автоинкрементный ключ, если его не просили сохранить.
// Возвращает true, если ключ из DTO сохранён и последовательность надо подтянуть.
func stripAutoID(et *model.EntityType, attrs Entity, o Options) bool {
	pk := et.PrimaryKey()
	if pk == nil || !pk.AutoIncrement {
		return false
	}
	if !o.KeepAutoID {
		delete(attrs, pk.Name)
		return false
	}
	return attrs[pk.Name] != nil
}

// createNested создаёт вложенные сущности. many-to-one — до корня (ключ пишется в attrs),
// остальные — после, их ключи возвращаются как значения связей для associate.
func (e *Engine) createNested(ctx context.Context, et *model.EntityType, nested map[string]any, attrs Entity, o Options, beforeRoot bool) (map[string]any, error) {
	names := make([]string, 0, len(nested))
	for k := range nested {
		names = append(names, k)
	}
	sort.Strings(names)

	links := map[string]any{}
	for _, name := range names {
		a, _ := et.Association(name)
		if (a.Kind == model.ManyToOne) != beforeRoot {
			continue
		}
		target := e.reg.Target(a)
		tpk := target.PrimaryKey().Name

		var objs []map[string]any
		switch v := nested[name].(type) {
		case map[string]any:
			objs = []map[string]any{v}
		case []any:
			for _, it := range v {
				objs = append(objs, it.(map[string]any))
			}
		}
		keys := make([]any, 0, len(objs))
		for _, obj := range objs {
			child, err := e.create(ctx, target, obj, o)
			if err != nil {
				return nil, err
			}
			keys = append(keys, child[tpk])
		}

		switch {
		case a.Kind == model.ManyToOne:
			attrs[a.ForeignKey] = keys[len(keys)-1]
		case a.Kind.ToMany():
			links[name] = keys
		default:
			links[name] = keys[len(keys)-1]
		}
	}
	return links, nil
}
