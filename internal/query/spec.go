package query

import (
	"strings"

	"strata/internal/model"
)

// IncludeNode — узел дерева include.
// Separate выставлен только у one-to-many без предиката; Required — у узлов с предикатом.
// Исполнитель в store грузит каждый узел отдельным запросом, Separate для него справочный.
type IncludeNode struct {
	Edge     *model.Association
	Target   *model.EntityType
	Required bool
	Separate bool
	Where    Where
	Children []*IncludeNode
}

// Key — алиас связи, под которым узел попадает в результат
func (n *IncludeNode) Key() string { return n.Edge.Alias }

func (n *IncludeNode) clone() *IncludeNode {
	out := &IncludeNode{
		Edge:     n.Edge,
		Target:   n.Target,
		Required: n.Required,
		Separate: n.Separate,
		Where:    n.Where.Clone(),
	}
	out.Children = CloneNodes(n.Children)
	return out
}

// CloneNodes — глубокая копия дерева; Edge и Target остаются общими
func CloneNodes(nodes []*IncludeNode) []*IncludeNode {
	if nodes == nil {
		return nil
	}
	out := make([]*IncludeNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.clone()
	}
	return out
}

// StripPredicates — копия дерева без предикатов (для компенсирующей выборки)
func StripPredicates(nodes []*IncludeNode) []*IncludeNode {
	out := CloneNodes(nodes)
	var walk func([]*IncludeNode)
	walk = func(ns []*IncludeNode) {
		for _, n := range ns {
			n.Where = nil
			n.Required = false
			n.Separate = n.Edge.Kind == model.OneToMany
			walk(n.Children)
		}
	}
	walk(out)
	return out
}

// HasRequired — хотя бы один узел дерева обязателен
func HasRequired(nodes []*IncludeNode) bool {
	for _, n := range nodes {
		if n.Required || HasRequired(n.Children) {
			return true
		}
	}
	return false
}

// Paths — дерево в виде списка путей "a", "a.b" (для логов и тестов)
func Paths(nodes []*IncludeNode) []string {
	var out []string
	var walk func(prefix string, ns []*IncludeNode)
	walk = func(prefix string, ns []*IncludeNode) {
		for _, n := range ns {
			p := n.Key()
			if prefix != "" {
				p = prefix + "." + p
			}
			out = append(out, p)
			walk(p, n.Children)
		}
	}
	walk("", nodes)
	return out
}

type Order struct {
	Field string
	Desc  bool
}

// ParseOrder: "-created_at,name" → [{created_at desc} {name asc}]; неизвестные поля отбрасываются
func ParseOrder(s string, et *model.EntityType) []Order {
	var out []Order
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		desc := false
		if strings.HasPrefix(p, "-") {
			desc = true
			p = strings.TrimPrefix(p, "-")
		} else if strings.HasPrefix(p, "+") {
			p = strings.TrimPrefix(p, "+")
		}
		if p == "" || !et.HasAttribute(p) {
			continue
		}
		out = append(out, Order{Field: p, Desc: desc})
	}
	return out
}

// QuerySpec — результат трансляции; создаётся заново на каждый вызов
type QuerySpec struct {
	Entity  *model.EntityType
	Where   Where
	Include []*IncludeNode
	Order   []Order
	Limit   *int
	Offset  *int
}
