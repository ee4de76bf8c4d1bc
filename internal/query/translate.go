package query

import (
	"sort"
	"strconv"
	"strings"

	"strata/internal/model"
)

// Action — CRUD-действие, для которого строится запрос
type Action string

const (
	ActionList   Action = "list"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ListOptions — параметры листинга в сыром виде (как из query string)
type ListOptions struct {
	Order  string
	Limit  string
	Offset string
}

// Translator превращает плоский фильтр в QuerySpec
type Translator struct {
	reg       *model.Registry
	separator string
	listLimit int
}

func NewTranslator(reg *model.Registry, separator string, listLimit int) *Translator {
	if separator == "" {
		separator = "$"
	}
	return &Translator{reg: reg, separator: separator, listLimit: listLimit}
}

func (t *Translator) Separator() string { return t.separator }

// Translate строит QuerySpec. base — разрешённое дерево include действия; оно копируется, не изменяется.
// Второе значение — предикат попал в ветку to-many (нужна компенсирующая выборка).
func (t *Translator) Translate(et *model.EntityType, filter map[string]any, base []*IncludeNode, opts ListOptions, action Action) (*QuerySpec, bool) {
	spec := &QuerySpec{
		Entity:  et,
		Where:   Where{},
		Include: CloneNodes(base),
	}
	if spec.Include == nil {
		spec.Include = []*IncludeNode{}
	}
	flagged := false

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !strings.Contains(key, ".") {
			field, v, ok := t.ParseAttribute(key, filter[key])
			if ok && et.HasAttribute(field) {
				spec.Where.Add(field, v)
			}
			continue
		}
		segs := strings.Split(key, ".")
		field, v, ok := t.ParseAttribute(segs[len(segs)-1], filter[key])
		if !ok {
			continue
		}
		var applied, branch bool
		spec.Include, applied, branch = t.attach(et, spec.Include, segs[:len(segs)-1], field, v)
		if applied && branch {
			flagged = true
		}
	}

	if action == ActionList {
		spec.Order = ParseOrder(opts.Order, et)
		if n, ok := parseInt(opts.Limit); ok {
			spec.Limit = &n
		} else if t.listLimit > 0 {
			n := t.listLimit
			spec.Limit = &n
		}
		if n, ok := parseInt(opts.Offset); ok {
			spec.Offset = &n
		}
	}
	return spec, flagged
}

// ParseAttribute разбирает "field" или "field$op" и приводит значение.
// Неизвестный оператор — ok=false.
func (t *Translator) ParseAttribute(key string, value any) (string, any, bool) {
	field, rawOp, hasOp := strings.Cut(key, t.separator)
	if !hasOp {
		return field, coerceAny(value), true
	}
	op, ok := ParseOp(rawOp)
	if !ok || field == "" {
		return "", nil, false
	}
	if op.SetValued() {
		return field, Cond{op: splitValues(value)}, true
	}
	return field, Cond{op: coerceAny(value)}, true
}

// attach вешает предикат на узел связи, создавая его при необходимости.
// Возвращает: обновлённый список, применён ли предикат, задета ли to-many ветка.
func (t *Translator) attach(et *model.EntityType, nodes []*IncludeNode, path []string, field string, v any) ([]*IncludeNode, bool, bool) {
	a, ok := et.Association(path[0])
	if !ok {
		return nodes, false, false
	}
	target := t.reg.Target(a)
	if target == nil {
		return nodes, false, false
	}

	var node *IncludeNode
	for _, n := range nodes {
		if n.Edge == a {
			node = n
			break
		}
	}
	created := node == nil
	if created {
		node = &IncludeNode{Edge: a, Target: target}
	}

	branch := a.Kind.ToMany()
	if len(path) == 1 {
		if !target.HasAttribute(field) {
			return nodes, false, false
		}
		if node.Where == nil {
			node.Where = Where{}
		}
		node.Where.Add(field, v)
	} else {
		children, applied, nested := t.attach(target, node.Children, path[1:], field, v)
		if !applied {
			return nodes, false, false
		}
		node.Children = children
		branch = branch || nested
	}

	node.Required = true
	node.Separate = false
	if created {
		nodes = append(nodes, node)
	}
	return nodes, true, branch
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// coerceAny: "true"/"false"/"null" → bool/nil, остальное как есть
func coerceAny(v any) any {
	switch t := v.(type) {
	case string:
		switch t {
		case "true":
			return true
		case "false":
			return false
		case "null":
			return nil
		}
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = coerceAny(s)
		}
		if len(out) == 1 {
			return out[0]
		}
		return out
	}
	return v
}

// splitValues — строка через запятую превращается в список, каждый элемент приводится отдельно
func splitValues(v any) []any {
	switch t := v.(type) {
	case string:
		parts := strings.Split(t, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = coerceAny(strings.TrimSpace(p))
		}
		return out
	case []string:
		var out []any
		for _, s := range t {
			out = append(out, splitValues(s)...)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = coerceAny(it)
		}
		return out
	}
	return []any{coerceAny(v)}
}
