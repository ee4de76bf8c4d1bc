package pg

import (
	"fmt"
	"strings"

	"gorm.io/gorm/clause"

	"strata/internal/query"
)

// whereExprs переводит Where в выражения gorm; поля обходятся в стабильном порядке
func whereExprs(w query.Where) []clause.Expression {
	var out []clause.Expression
	for _, field := range w.Keys() {
		out = append(out, valueExprs(field, w[field])...)
	}
	return out
}

func valueExprs(field string, v any) []clause.Expression {
	col := clause.Column{Name: field}
	switch t := v.(type) {
	case query.Cond:
		var out []clause.Expression
		for _, op := range t.Ops() {
			out = append(out, opExpr(col, op, t[op]))
		}
		return out
	case query.All:
		var out []clause.Expression
		for _, it := range t {
			out = append(out, valueExprs(field, it)...)
		}
		return out
	case []any:
		return []clause.Expression{inExpr(col, t)}
	case nil:
		return []clause.Expression{clause.Expr{SQL: "? IS NULL", Vars: []any{col}}}
	}
	return []clause.Expression{clause.Eq{Column: col, Value: v}}
}

// inExpr: пустой список ничего не выбирает
func inExpr(col clause.Column, list []any) clause.Expression {
	if len(list) == 0 {
		return clause.Expr{SQL: "1 = 0"}
	}
	return clause.IN{Column: col, Values: list}
}

func opExpr(col clause.Column, op query.Op, v any) clause.Expression {
	switch op {
	case query.OpEq:
		if v == nil {
			return clause.Expr{SQL: "? IS NULL", Vars: []any{col}}
		}
		return clause.Eq{Column: col, Value: v}
	case query.OpNe:
		if v == nil {
			return clause.Expr{SQL: "? IS NOT NULL", Vars: []any{col}}
		}
		return clause.Neq{Column: col, Value: v}
	case query.OpIs:
		return isExpr(col, v, false)
	case query.OpNot:
		return isExpr(col, v, true)
	case query.OpOr:
		var alts []clause.Expression
		for _, it := range asList(v) {
			parts := valueExprs(col.Name, it)
			if len(parts) == 1 {
				alts = append(alts, parts[0])
			} else {
				alts = append(alts, clause.And(parts...))
			}
		}
		switch len(alts) {
		case 0:
			return clause.Expr{SQL: "1 = 0"}
		case 1:
			return alts[0]
		}
		return clause.Or(alts...)
	case query.OpGt:
		return clause.Gt{Column: col, Value: v}
	case query.OpGte:
		return clause.Gte{Column: col, Value: v}
	case query.OpLt:
		return clause.Lt{Column: col, Value: v}
	case query.OpLte:
		return clause.Lte{Column: col, Value: v}
	case query.OpBetween, query.OpNotBetween:
		bounds := asList(v)
		if len(bounds) != 2 {
			return clause.Expr{SQL: "1 = 0"}
		}
		sql := "? BETWEEN ? AND ?"
		if op == query.OpNotBetween {
			sql = "? NOT BETWEEN ? AND ?"
		}
		return clause.Expr{SQL: sql, Vars: []any{col, bounds[0], bounds[1]}}
	case query.OpIn:
		return inExpr(col, asList(v))
	case query.OpNotIn:
		list := asList(v)
		if len(list) == 0 {
			return clause.Expr{SQL: "? IS NOT NULL", Vars: []any{col}}
		}
		return clause.Not(clause.IN{Column: col, Values: list})
	case query.OpLike:
		return clause.Like{Column: col, Value: v}
	case query.OpNotLike:
		return clause.Not(clause.Like{Column: col, Value: v})
	case query.OpStartsWith:
		return clause.Like{Column: col, Value: escapeLike(fmt.Sprint(v)) + "%"}
	case query.OpEndsWith:
		return clause.Like{Column: col, Value: "%" + escapeLike(fmt.Sprint(v))}
	case query.OpSubstring:
		return clause.Like{Column: col, Value: "%" + escapeLike(fmt.Sprint(v)) + "%"}
	case query.OpILike:
		return clause.Expr{SQL: "? ILIKE ?", Vars: []any{col, v}}
	case query.OpNotILike:
		return clause.Expr{SQL: "? NOT ILIKE ?", Vars: []any{col, v}}
	case query.OpRegexp:
		return clause.Expr{SQL: "? ~ ?", Vars: []any{col, v}}
	case query.OpNotRegexp:
		return clause.Expr{SQL: "? !~ ?", Vars: []any{col, v}}
	case query.OpIRegexp:
		return clause.Expr{SQL: "? ~* ?", Vars: []any{col, v}}
	case query.OpNotIRegexp:
		return clause.Expr{SQL: "? !~* ?", Vars: []any{col, v}}
	}
	return clause.Expr{SQL: "1 = 0"}
}

func isExpr(col clause.Column, v any, negate bool) clause.Expression {
	var lit string
	switch v {
	case nil:
		lit = "NULL"
	case true:
		lit = "TRUE"
	case false:
		lit = "FALSE"
	default:
		if negate {
			return clause.Expr{SQL: "? IS DISTINCT FROM ?", Vars: []any{col, v}}
		}
		return clause.Eq{Column: col, Value: v}
	}
	if negate {
		return clause.Expr{SQL: "? IS NOT " + lit, Vars: []any{col}}
	}
	return clause.Expr{SQL: "? IS " + lit, Vars: []any{col}}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}
