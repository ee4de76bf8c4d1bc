package query

import (
	"fmt"
	"strings"

	"strata/internal/model"
)

// ConfigurationError — include ссылается на несуществующую связь.
// Это расхождение статического графа, а не ошибка запроса.
type ConfigurationError struct {
	Entity string
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("include %q on %s: %s", e.Path, e.Entity, e.Reason)
}

// Resolver строит нормализованное дерево include для типа сущности
type Resolver struct {
	reg *model.Registry
}

func NewResolver(reg *model.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve разворачивает спецификацию в дерево узлов.
// Узлы wildcard идут первыми, затем явные; дубликаты среди соседей сливаются.
func (r *Resolver) Resolve(specs []IncludeSpec, et *model.EntityType) ([]*IncludeNode, error) {
	covered := coveredKeys(specs)
	var wild, rest []*IncludeNode

	for _, s := range specs {
		switch s := s.(type) {
		case Wildcard:
			for _, a := range et.Associations {
				if covered.has(a) {
					continue
				}
				n, err := r.leaf(et, a, a.Name)
				if err != nil {
					return nil, err
				}
				wild = append(wild, n)
			}
		case Named:
			a, ok := r.edge(et, s.Name)
			if !ok {
				return nil, &ConfigurationError{Entity: et.Name, Path: s.Name, Reason: "no such association"}
			}
			n, err := r.leaf(et, a, s.Name)
			if err != nil {
				return nil, err
			}
			rest = append(rest, n)
		case DottedPath:
			nodes, err := r.path(et, s.Path, strings.Join(s.Path, "."))
			if err != nil {
				return nil, err
			}
			rest = append(rest, nodes...)
		case Aliased:
			n, err := r.aliased(et, s)
			if err != nil {
				return nil, err
			}
			rest = append(rest, n)
		default:
			return nil, &ConfigurationError{Entity: et.Name, Path: fmt.Sprintf("%T", s), Reason: "unsupported include shape"}
		}
	}
	return Aggregate(append(wild, rest...)), nil
}

// edge ищет связь по имени, алиасу и, в последнюю очередь, по имени целевого типа
func (r *Resolver) edge(et *model.EntityType, name string) (*model.Association, bool) {
	if a, ok := et.Association(name); ok {
		return a, true
	}
	for _, a := range et.Associations {
		if strings.EqualFold(a.Target, name) {
			return a, true
		}
	}
	return nil, false
}

func (r *Resolver) target(et *model.EntityType, a *model.Association, path string) (*model.EntityType, error) {
	t := r.reg.Target(a)
	if t == nil {
		return nil, &ConfigurationError{Entity: et.Name, Path: path, Reason: "target entity " + a.Target + " is not registered"}
	}
	return t, nil
}

func (r *Resolver) leaf(et *model.EntityType, a *model.Association, path string) (*IncludeNode, error) {
	t, err := r.target(et, a, path)
	if err != nil {
		return nil, err
	}
	return &IncludeNode{Edge: a, Target: t, Separate: a.Kind == model.OneToMany}, nil
}

// path разворачивает сегменты в глубину
func (r *Resolver) path(et *model.EntityType, segs []string, full string) ([]*IncludeNode, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	var edges []*model.Association
	if segs[0] == wildcardToken {
		edges = et.Associations
	} else {
		a, ok := r.edge(et, segs[0])
		if !ok {
			return nil, &ConfigurationError{Entity: et.Name, Path: full, Reason: "segment " + segs[0] + " is not an association"}
		}
		edges = []*model.Association{a}
	}

	out := make([]*IncludeNode, 0, len(edges))
	for _, a := range edges {
		n, err := r.leaf(et, a, full)
		if err != nil {
			return nil, err
		}
		if len(segs) > 1 {
			children, err := r.path(n.Target, segs[1:], full)
			if err != nil {
				return nil, err
			}
			n.Children = Aggregate(children)
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *Resolver) aliased(et *model.EntityType, s Aliased) (*IncludeNode, error) {
	var a *model.Association
	for _, name := range []string{s.As, s.Association, s.Model} {
		if name == "" {
			continue
		}
		if found, ok := r.edge(et, name); ok {
			a = found
			break
		}
	}
	label := s.As + s.Association + s.Model
	if a == nil {
		return nil, &ConfigurationError{Entity: et.Name, Path: label, Reason: "no such association"}
	}
	n, err := r.leaf(et, a, label)
	if err != nil {
		return nil, err
	}
	n.Where = s.Where.Clone()
	n.Required = s.Required || len(n.Where) > 0
	n.Separate = n.Separate && !n.Required
	n.Children, err = r.Resolve(s.Include, n.Target)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// coverage — ключи, явно упомянутые в спецификации помимо wildcard
type coverage map[string]struct{}

func coveredKeys(specs []IncludeSpec) coverage {
	c := coverage{}
	for _, s := range specs {
		switch s := s.(type) {
		case Named:
			c[s.Name] = struct{}{}
		case DottedPath:
			if len(s.Path) > 0 && s.Path[0] != wildcardToken {
				c[s.Path[0]] = struct{}{}
			}
		case Aliased:
			for _, k := range []string{s.As, s.Association, s.Model} {
				if k != "" {
					c[k] = struct{}{}
				}
			}
		}
	}
	return c
}

// has: сначала алиас, затем имя связи, затем имя целевого типа
func (c coverage) has(a *model.Association) bool {
	for _, k := range []string{a.Alias, a.Name, a.Target} {
		if _, ok := c[k]; ok {
			return true
		}
	}
	return false
}
