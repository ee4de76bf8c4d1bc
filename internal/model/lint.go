package model

import (
	"fmt"
	"strings"
)

type SchemaIssue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i SchemaIssue) String() string {
	return fmt.Sprintf("%s.%s: %s (%s)", i.Entity, i.Field, i.Message, i.Code)
}

// Lint проверяет базовые противоречия в объявлениях.
func Lint(types []*EntityType, lookup func(string) (*EntityType, bool)) []SchemaIssue {
	var issues []SchemaIssue
	add := func(et *EntityType, field, code, msg string) {
		issues = append(issues, SchemaIssue{Entity: et.Name, Field: field, Code: code, Message: msg})
	}

	for _, et := range types {
		for _, a := range et.Attributes {
			// валидность on_delete
			switch a.OnDelete {
			case "", "restrict", "set_null", "cascade":
			default:
				add(et, a.Name, "on_delete_unknown",
					fmt.Sprintf("unknown on_delete policy %q (allowed: restrict|set_null|cascade)", a.OnDelete))
			}
			// required ref + set_null — конфликт
			if a.References != "" && a.Required && a.OnDelete == "set_null" {
				add(et, a.Name, "required_conflicts_on_delete",
					"required ref cannot have on_delete=set_null; use restrict (or make field optional)")
			}
			if a.Type == "enum" && len(a.Enum) == 0 {
				add(et, a.Name, "enum_empty", "enum has no values")
			}
		}

		for _, as := range et.Associations {
			if _, ok := lookup(as.Target); !ok {
				add(et, as.Name, "ref_target_unknown", fmt.Sprintf("unknown target %q", as.Target))
			}
			if as.Kind == ManyToMany {
				join, ok := lookup(as.Through)
				if !ok {
					add(et, as.Name, "through_missing", fmt.Sprintf("join entity %q is not resolvable", as.Through))
					continue
				}
				if !join.HasAttribute(as.ForeignKey) || !join.HasAttribute(as.OtherKey) {
					add(et, as.Name, "through_keys_missing",
						fmt.Sprintf("join entity %q lacks %s/%s", as.Through, as.ForeignKey, as.OtherKey))
				}
			}
		}

		for name, sc := range et.Scopes {
			for _, ex := range sc.Exclude {
				if !et.HasAttribute(ex) {
					add(et, ex, "scope_unknown_field", fmt.Sprintf("scope %q excludes unknown field", name))
				}
			}
		}
		for _, set := range et.Unique {
			for _, f := range set {
				if !et.HasAttribute(f) {
					add(et, f, "unique_unknown_field",
						fmt.Sprintf("unique(%s) references unknown field", strings.Join(set, ", ")))
				}
			}
		}
	}
	return issues
}
