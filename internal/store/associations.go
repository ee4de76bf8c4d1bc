package store

import (
	"context"
	"fmt"

	"strata/internal/model"
	"strata/internal/query"
)

// Link — элемент установки связи: ключ цели и атрибуты join-записи
type Link struct {
	Key     any
	Through Row
}

// SetAssociation заменяет набор связанных записей владельца
func (x *Executor) SetAssociation(ctx context.Context, tx Tx, et *model.EntityType, owner Row, a *model.Association, links []Link) error {
	ownerPK, err := ownerKey(et, owner)
	if err != nil {
		return err
	}
	switch a.Kind {
	case model.ManyToOne:
		var key any
		if len(links) > 0 {
			key = links[len(links)-1].Key
		}
		pk := et.PrimaryKey().Name
		if _, err := tx.Update(ctx, x.Table(et), et, query.Where{pk: ownerPK}, Row{a.ForeignKey: key}); err != nil {
			return fmt.Errorf("set %s.%s: %w", et.Name, a.Name, err)
		}
		owner[a.ForeignKey] = key
		return nil

	case model.OneToOne, model.OneToMany:
		target := x.reg.Target(a)
		tpk := target.PrimaryKey().Name
		where := query.Where{a.ForeignKey: ownerPK}
		if keys := linkKeys(links); len(keys) > 0 {
			where[tpk] = query.Cond{query.OpNotIn: keys}
		}
		if _, err := tx.Update(ctx, x.Table(target), target, NormalizeWhere(target, where), Row{a.ForeignKey: nil}); err != nil {
			return fmt.Errorf("unlink %s.%s: %w", et.Name, a.Name, err)
		}

	case model.ManyToMany:
		join := x.reg.Through(a)
		if join == nil {
			return fmt.Errorf("association %s.%s: join entity %q not registered", a.Source, a.Name, a.Through)
		}
		if _, err := tx.Delete(ctx, x.Table(join), join, NormalizeWhere(join, query.Where{a.ForeignKey: ownerPK})); err != nil {
			return fmt.Errorf("unlink %s.%s: %w", et.Name, a.Name, err)
		}
	}
	return x.AddAssociation(ctx, tx, et, owner, a, links)
}

// AddAssociation добавляет связанные записи к уже существующим.
// Для many-to-many повторное добавление заменяет атрибуты join-записи.
func (x *Executor) AddAssociation(ctx context.Context, tx Tx, et *model.EntityType, owner Row, a *model.Association, links []Link) error {
	if len(links) == 0 {
		return nil
	}
	ownerPK, err := ownerKey(et, owner)
	if err != nil {
		return err
	}
	switch a.Kind {
	case model.ManyToOne:
		return x.SetAssociation(ctx, tx, et, owner, a, links)

	case model.OneToOne, model.OneToMany:
		target := x.reg.Target(a)
		keys := linkKeys(links)
		if len(keys) == 0 {
			return nil
		}
		if a.Kind == model.OneToOne {
			keys = keys[len(keys)-1:]
		}
		where := NormalizeWhere(target, query.Where{target.PrimaryKey().Name: query.In(keys)})
		if _, err := tx.Update(ctx, x.Table(target), target, where, Row{a.ForeignKey: ownerPK}); err != nil {
			return fmt.Errorf("link %s.%s: %w", et.Name, a.Name, err)
		}

	case model.ManyToMany:
		join := x.reg.Through(a)
		if join == nil {
			return fmt.Errorf("association %s.%s: join entity %q not registered", a.Source, a.Name, a.Through)
		}
		for _, l := range links {
			where := NormalizeWhere(join, query.Where{a.ForeignKey: ownerPK, a.OtherKey: l.Key})
			if _, err := tx.Delete(ctx, x.Table(join), join, where); err != nil {
				return fmt.Errorf("link %s.%s: %w", et.Name, a.Name, err)
			}
			row := Row{}
			for k, v := range l.Through {
				if join.HasAttribute(k) {
					row[k] = v
				}
			}
			row[a.ForeignKey] = ownerPK
			row[a.OtherKey] = l.Key
			if _, err := tx.Insert(ctx, x.Table(join), join, []Row{row}, false); err != nil {
				return fmt.Errorf("link %s.%s: %w", et.Name, a.Name, err)
			}
		}
	}
	return nil
}

func ownerKey(et *model.EntityType, owner Row) (any, error) {
	pk := et.PrimaryKey()
	if pk == nil || owner[pk.Name] == nil {
		return nil, fmt.Errorf("%s: owner has no primary key", et.Name)
	}
	return owner[pk.Name], nil
}

func linkKeys(links []Link) []any {
	out := make([]any, 0, len(links))
	for _, l := range links {
		if l.Key != nil {
			out = append(out, l.Key)
		}
	}
	return out
}
