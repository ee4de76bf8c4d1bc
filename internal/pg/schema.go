package pg

import (
	"fmt"
	"strings"

	"strata/internal/model"
)

type OnDeletePolicy string

const (
	OnDeleteRestrict OnDeletePolicy = "RESTRICT"
	OnDeleteSetNull  OnDeletePolicy = "SET NULL"
	OnDeleteCascade  OnDeletePolicy = "CASCADE"
)

func sqlIdent(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }

func sqlLiteral(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func qualified(schema, table string) string { return sqlIdent(schema) + "." + sqlIdent(table) }

func mapType(a *model.Attribute) (string, error) {
	switch a.Type {
	case "string":
		if a.MaxLength > 0 {
			return fmt.Sprintf("varchar(%d)", a.MaxLength), nil
		}
		return "text", nil
	case "int":
		if a.PrimaryKey && a.AutoIncrement {
			return "bigserial", nil
		}
		return "bigint", nil
	case "float":
		return "double precision", nil
	case "money":
		return "numeric(18,2)", nil
	case "bool":
		return "boolean", nil
	case "date":
		return "date", nil
	case "datetime":
		return "timestamp with time zone", nil
	case "enum":
		return "text", nil
	case "json", "array":
		return "jsonb", nil
	}
	return "", fmt.Errorf("unknown type: %s", a.Type)
}

func onDeletePolicy(a *model.Attribute) OnDeletePolicy {
	switch strings.ToLower(strings.TrimSpace(a.OnDelete)) {
	case "set_null":
		return OnDeleteSetNull
	case "cascade":
		return OnDeleteCascade
	}
	return OnDeleteRestrict
}

func columnDefault(a *model.Attribute) string {
	if !a.HasDefault {
		return ""
	}
	switch a.Default {
	case "now":
		return " default now()"
	case "uuid":
		return " default gen_random_uuid()"
	}
	return " default " + sqlLiteral(a.Default)
}

// GenerateDDL возвращает карту ключ -> SQL для одной схемы: схема, таблицы с уникальными индексами, затем FK.
// Ключи упорядочены так, чтобы ApplyDDL создавал таблицы раньше внешних ключей.
// lookup нужен для FK: цель, закреплённая за другой схемой, ищется там.
func GenerateDDL(schema string, types []*model.EntityType, lookup func(string) (*model.EntityType, bool)) (map[string]string, error) {
	out := make(map[string]string, len(types)+2)
	out["000_schema"] = fmt.Sprintf("create schema if not exists %s;\n", sqlIdent(schema))

	var fks strings.Builder
	for _, et := range types {
		var b strings.Builder
		var cols []string
		seen := map[string]struct{}{}
		for _, a := range et.Attributes {
			if _, dup := seen[a.Name]; dup {
				return nil, fmt.Errorf("%s: column %q declared twice", et.Name, a.Name)
			}
			seen[a.Name] = struct{}{}
			typ, err := mapType(a)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", et.Name, a.Name, err)
			}
			null := "null"
			if a.Required || a.PrimaryKey {
				null = "not null"
			}
			col := fmt.Sprintf("%s %s %s%s", sqlIdent(a.Name), typ, null, columnDefault(a))
			if a.Type == "enum" && len(a.Enum) > 0 {
				vals := make([]string, len(a.Enum))
				for i, v := range a.Enum {
					vals[i] = sqlLiteral(v)
				}
				col += fmt.Sprintf(" check (%s in (%s))", sqlIdent(a.Name), strings.Join(vals, ", "))
			}
			cols = append(cols, col)
		}
		var pks []string
		for _, a := range et.PrimaryKeys() {
			pks = append(pks, sqlIdent(a.Name))
		}
		if len(pks) > 0 {
			cols = append(cols, fmt.Sprintf("primary key (%s)", strings.Join(pks, ", ")))
		}
		fmt.Fprintf(&b, "create table if not exists %s (\n  %s\n);\n", qualified(schema, et.Table), strings.Join(cols, ",\n  "))

		for _, a := range et.Attributes {
			if a.Unique && !a.PrimaryKey {
				fmt.Fprintf(&b, "create unique index if not exists %s on %s(%s);\n",
					sqlIdent(et.Table+"_"+a.Name+"_uq"), qualified(schema, et.Table), sqlIdent(a.Name))
			}
		}
		for _, set := range et.Unique {
			if len(set) == 0 {
				continue
			}
			parts := make([]string, len(set))
			for i, p := range set {
				parts[i] = sqlIdent(p)
			}
			fmt.Fprintf(&b, "create unique index if not exists %s on %s(%s);\n",
				sqlIdent(et.Table+"_"+strings.Join(set, "_")+"_uq"), qualified(schema, et.Table), strings.Join(parts, ", "))
		}
		out["100_"+et.Table] = b.String()

		for _, a := range et.Attributes {
			if a.References == "" {
				continue
			}
			target, ok := lookup(a.References)
			if !ok || target.PrimaryKey() == nil {
				continue
			}
			refSchema := target.Pinned
			if refSchema == "" {
				if et.Pinned != "" {
					// закреплённая сущность не может ссылаться на таблицу арендатора
					continue
				}
				refSchema = schema
			}
			fmt.Fprintf(&fks, "alter table %s add constraint %s foreign key (%s) references %s(%s) on delete %s;\n",
				qualified(schema, et.Table),
				sqlIdent(et.Table+"_"+a.Name+"_fk"),
				sqlIdent(a.Name),
				qualified(refSchema, target.Table), sqlIdent(target.PrimaryKey().Name),
				onDeletePolicy(a),
			)
		}
	}
	if fks.Len() > 0 {
		out["200_foreign_keys"] = fks.String()
	}
	return out, nil
}
