package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jinzhu/inflection"

	"strata/internal/dsl"
)

// Load строит типы из DSL-объявлений и регистрирует их.
// Связи могут ссылаться как на новые, так и на уже зарегистрированные типы,
// поэтому тот же путь обслуживает регистрацию сущностей во время работы.
func (r *Registry) Load(decls []*dsl.Entity) ([]*EntityType, error) {
	b := &builder{reg: r, pending: map[string]*EntityType{}}

	for _, d := range decls {
		if _, exists := b.lookup(d.Name); exists {
			return nil, fmt.Errorf("entity %q already defined", d.Name)
		}
		et, err := buildType(d)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", d.Name, err)
		}
		b.add(et)
	}
	for i, d := range decls {
		if err := b.link(b.order[i], d); err != nil {
			return nil, fmt.Errorf("entity %s: %w", d.Name, err)
		}
	}

	if issues := Lint(b.order, b.lookup); len(issues) > 0 {
		msgs := make([]error, 0, len(issues))
		for _, it := range issues {
			msgs = append(msgs, errors.New(it.String()))
		}
		return nil, fmt.Errorf("schema has blocking issues: %w", errors.Join(msgs...))
	}
	if err := r.register(b.order); err != nil {
		return nil, err
	}
	return b.order, nil
}

type builder struct {
	reg     *Registry
	pending map[string]*EntityType
	order   []*EntityType
}

func (b *builder) add(et *EntityType) {
	b.pending[et.Name] = et
	b.order = append(b.order, et)
}

func (b *builder) lookup(name string) (*EntityType, bool) {
	if et, ok := b.pending[name]; ok {
		return et, true
	}
	return b.reg.Lookup(name)
}

func buildType(d *dsl.Entity) (*EntityType, error) {
	et := &EntityType{
		Name:     d.Name,
		Table:    d.Table,
		Pinned:   d.Schema,
		Scopes:   map[string]Scope{},
		Includes: map[string]string{},
		Unique:   d.Constraints.Unique,
	}
	if et.Table == "" {
		et.Table = TableName(d.Name)
	}
	for k, v := range d.Includes {
		et.Includes[k] = v
	}
	for _, sc := range d.Scopes {
		et.Scopes[sc.Name] = Scope{Name: sc.Name, Exclude: sc.Exclude}
	}

	for _, f := range d.Fields {
		if f.IsAssociation() {
			continue
		}
		a, err := buildAttribute(f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if et.HasAttribute(a.Name) {
			return nil, fmt.Errorf("field %q declared twice", a.Name)
		}
		et.Attributes = append(et.Attributes, a)
	}
	if et.PrimaryKey() == nil {
		id := &Attribute{Name: "id", Type: "int", PrimaryKey: true, AutoIncrement: true}
		et.Attributes = append([]*Attribute{id}, et.Attributes...)
	}
	return et, nil
}

func buildAttribute(f dsl.Field) (*Attribute, error) {
	opt := func(k string) bool { return strings.EqualFold(f.Options[k], "true") }
	a := &Attribute{
		Name:          f.Name,
		Type:          strings.ToLower(f.Type),
		ElemType:      f.ElemType,
		Enum:          f.Enum,
		PrimaryKey:    opt("pk") || opt("primary"),
		AutoIncrement: opt("auto") || opt("serial"),
		Required:      opt("required"),
		Unique:        opt("unique"),
		Readonly:      opt("readonly"),
	}
	switch a.Type {
	case "string", "int", "float", "money", "bool", "date", "datetime", "enum", "json", "array":
	default:
		return nil, fmt.Errorf("unknown type %q", f.Type)
	}
	if a.AutoIncrement && a.Type != "int" {
		return nil, errors.New("auto increment requires int")
	}
	if def, ok := f.Options["default"]; ok {
		a.Default, a.HasDefault = def, true
	}
	if s := f.Options["max"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("max=%q: %w", s, err)
		}
		a.MaxLength = n
	}
	if p := f.Options["pattern"]; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern: %w", err)
		}
		a.Pattern = re
	}
	return a, nil
}

func pkType(et *EntityType) string {
	if pk := et.PrimaryKey(); pk != nil {
		return pk.Type
	}
	return "int"
}

// ensureColumn добавляет FK-колонку, если она не объявлена явно
func ensureColumn(et *EntityType, name, typ, references string) *Attribute {
	if a, ok := et.Attribute(name); ok {
		if a.References == "" {
			a.References = references
		}
		return a
	}
	a := &Attribute{Name: name, Type: typ, References: references}
	et.Attributes = append(et.Attributes, a)
	return a
}

func (b *builder) link(et *EntityType, d *dsl.Entity) error {
	for _, f := range d.Fields {
		if !f.IsAssociation() {
			continue
		}
		target, ok := b.lookup(f.RefTarget)
		if !ok {
			return fmt.Errorf("field %s: unknown target entity %q", f.Name, f.RefTarget)
		}
		as := &Association{
			Name:     f.Name,
			Alias:    f.Options["as"],
			Source:   et.Name,
			Target:   target.Name,
			Required: strings.EqualFold(f.Options["required"], "true"),
			OnDelete: strings.ToLower(f.Options["on_delete"]),
		}
		if as.Alias == "" {
			as.Alias = f.Name
		}

		switch f.Type {
		case "ref":
			as.Kind = ManyToOne
			as.ForeignKey = f.Options["fk"]
			if as.ForeignKey == "" {
				as.ForeignKey = ForeignKeyName(f.Name)
			}
			col := ensureColumn(et, as.ForeignKey, pkType(target), target.Name)
			col.Required = col.Required || as.Required
			col.OnDelete = as.OnDelete

		case "has_many", "has_one":
			as.Kind = OneToMany
			if f.Type == "has_one" {
				as.Kind = OneToOne
			}
			as.ForeignKey = f.Options["fk"]
			if as.ForeignKey == "" {
				as.ForeignKey = ForeignKeyName(et.Name)
			}
			if _, fresh := b.pending[target.Name]; !fresh && !target.HasAttribute(as.ForeignKey) {
				return fmt.Errorf("field %s: registered entity %s has no column %q", f.Name, target.Name, as.ForeignKey)
			}
			ensureColumn(target, as.ForeignKey, pkType(et), et.Name)

		case "array":
			as.Kind = ManyToMany
			as.Through = f.Options["through"]
			if as.Through == "" {
				as.Through = JoinName(et.Name, target.Name)
			}
			as.ForeignKey = f.Options["fk"]
			if as.ForeignKey == "" {
				as.ForeignKey = ForeignKeyName(et.Name)
			}
			as.OtherKey = f.Options["other_key"]
			if as.OtherKey == "" {
				as.OtherKey = ForeignKeyName(target.Name)
				if as.OtherKey == as.ForeignKey {
					as.OtherKey = ForeignKeyName(inflection.Singular(f.Name))
				}
			}
			join, ok := b.lookup(as.Through)
			if !ok {
				// неявная join-сущность: составной ключ из двух FK
				join = &EntityType{
					Name:     as.Through,
					Table:    TableName(as.Through),
					Pinned:   et.Pinned,
					Join:     true,
					Scopes:   map[string]Scope{},
					Includes: map[string]string{"": ""},
				}
				b.add(join)
			}
			join.Join = true
			src := ensureColumn(join, as.ForeignKey, pkType(et), et.Name)
			dst := ensureColumn(join, as.OtherKey, pkType(target), target.Name)
			src.OnDelete, dst.OnDelete = "cascade", "cascade"
			if join.PrimaryKey() == nil {
				src.PrimaryKey, dst.PrimaryKey = true, true
			}
		}
		if et.IsAssociationKey(as.Name) || et.HasAttribute(as.Name) {
			return fmt.Errorf("field %s: name clashes with another field", f.Name)
		}
		et.Associations = append(et.Associations, as)
	}
	return nil
}
