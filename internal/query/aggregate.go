package query

import (
	"github.com/samber/lo"

	"strata/internal/model"
)

// Aggregate сливает соседние узлы одной и той же связи.
// Если у кого-то из них есть предикат, итог обязателен: предикаты складываются через AND,
// вложенные include объединяются. Без предикатов признаки берутся у первого узла,
// вложенные include всё равно объединяются.
func Aggregate(nodes []*IncludeNode) []*IncludeNode {
	if len(nodes) == 0 {
		return nodes
	}
	groups := lo.GroupBy(nodes, func(n *IncludeNode) string { return edgeKey(n.Edge) })
	order := lo.Uniq(lo.Map(nodes, func(n *IncludeNode, _ int) string { return edgeKey(n.Edge) }))

	out := make([]*IncludeNode, 0, len(order))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			n := group[0]
			n.Children = Aggregate(n.Children)
			out = append(out, n)
			continue
		}
		out = append(out, merge(group))
	}
	return out
}

func edgeKey(a *model.Association) string { return a.Source + "." + a.Name }

func merge(group []*IncludeNode) *IncludeNode {
	first := group[0]
	merged := &IncludeNode{
		Edge:     first.Edge,
		Target:   first.Target,
		Required: first.Required,
		Separate: first.Separate,
	}
	var children []*IncludeNode
	for _, n := range group {
		children = append(children, n.Children...)
	}
	merged.Children = Aggregate(children)

	predicated := lo.Filter(group, func(n *IncludeNode, _ int) bool { return len(n.Where) > 0 })
	if len(predicated) > 0 {
		merged.Where = Where{}
		for _, n := range predicated {
			for _, k := range n.Where.Keys() {
				merged.Where.Add(k, n.Where[k])
			}
		}
		merged.Required = true
		merged.Separate = false
	}
	return merged
}
