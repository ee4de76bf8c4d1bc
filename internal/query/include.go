package query

import (
	"fmt"
	"strings"
)

// IncludeSpec — закрытый вариант описания include: Wildcard | Named | Aliased | DottedPath
type IncludeSpec interface {
	includeSpec()
}

// Wildcard — все объявленные связи
type Wildcard struct{}

// Named — имя связи или имя целевого типа
type Named struct {
	Name string
}

// DottedPath — "a.b.c"; сегмент "all" допускается в середине
type DottedPath struct {
	Path []string
}

// Aliased — структурный узел со ссылкой на связь, целевой тип или алиас
type Aliased struct {
	As          string
	Association string
	Model       string
	Where       Where
	Required    bool
	Include     []IncludeSpec
}

func (Wildcard) includeSpec()   {}
func (Named) includeSpec()      {}
func (DottedPath) includeSpec() {}
func (Aliased) includeSpec()    {}

const wildcardToken = "all"

// ParseIncludeString разбирает "all", "roles, tenant.users" и т.п.
func ParseIncludeString(s string) []IncludeSpec {
	var out []IncludeSpec
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
		case tok == wildcardToken:
			out = append(out, Wildcard{})
		case strings.Contains(tok, "."):
			out = append(out, DottedPath{Path: strings.Split(tok, ".")})
		default:
			out = append(out, Named{Name: tok})
		}
	}
	return out
}

// ParseInclude принимает строку, список или объект (как из JSON) и отвергает прочие формы
func ParseInclude(raw any) ([]IncludeSpec, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseIncludeString(v), nil
	case []string:
		return ParseIncludeString(strings.Join(v, ",")), nil
	case []any:
		var out []IncludeSpec
		for i, it := range v {
			specs, err := ParseInclude(it)
			if err != nil {
				return nil, fmt.Errorf("include[%d]: %w", i, err)
			}
			out = append(out, specs...)
		}
		return out, nil
	case map[string]any:
		return parseIncludeObject(v)
	default:
		return nil, fmt.Errorf("unsupported include shape %T", raw)
	}
}

func parseIncludeObject(m map[string]any) ([]IncludeSpec, error) {
	if all, ok := m["all"]; ok {
		if b, _ := all.(bool); b && len(m) == 1 {
			return []IncludeSpec{Wildcard{}}, nil
		}
		return nil, fmt.Errorf("include object with \"all\" must be {all: true}")
	}
	node := Aliased{}
	for k, v := range m {
		switch k {
		case "as", "association", "model":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("include.%s must be a string", k)
			}
			switch k {
			case "as":
				node.As = s
			case "association":
				node.Association = s
			default:
				node.Model = s
			}
		case "required":
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("include.required must be a bool")
			}
			node.Required = b
		case "where":
			w, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("include.where must be an object")
			}
			node.Where = Where(w)
		case "include":
			nested, err := ParseInclude(v)
			if err != nil {
				return nil, err
			}
			node.Include = nested
		default:
			return nil, fmt.Errorf("unknown include key %q", k)
		}
	}
	if node.As == "" && node.Association == "" && node.Model == "" {
		return nil, fmt.Errorf("include object needs one of as/association/model")
	}
	return []IncludeSpec{node}, nil
}
