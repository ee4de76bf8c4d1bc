package model

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// TableName: userRole -> user_roles, person -> people; ключевые слова получают префикс e_
func TableName(entity string) string {
	t := strcase.ToSnake(inflection.Plural(entity))
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

// ForeignKeyName: tenant -> tenant_id
func ForeignKeyName(entity string) string {
	return strcase.ToSnake(inflection.Singular(entity)) + "_id"
}

// JoinName: user + role -> userRole
func JoinName(source, target string) string {
	return strcase.ToLowerCamel(source + "_" + target)
}
