package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"strata/internal/engine"
	"strata/internal/model"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Entity string `json:"entity"`
	Table  string `json:"table"`
	Schema string `json:"schema,omitempty"` // только для закреплённых сущностей
	Join   bool   `json:"join,omitempty"`
}

func MetaListHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		types := eng.Registry().All()
		out := make([]metaEntityListItem, 0, len(types))
		for _, et := range types {
			out = append(out, metaEntityListItem{Entity: et.Name, Table: et.Table, Schema: et.Pinned, Join: et.Join})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	ElemType   string   `json:"elemType,omitempty"`
	Enum       []string `json:"enum,omitempty"`
	PrimaryKey bool     `json:"pk,omitempty"`
	Required   bool     `json:"required,omitempty"`
	Unique     bool     `json:"unique,omitempty"`
	Readonly   bool     `json:"readonly,omitempty"`
	Default    string   `json:"default,omitempty"`
	References string   `json:"references,omitempty"`
}

type metaAssociation struct {
	Name       string `json:"name"`
	Alias      string `json:"alias,omitempty"`
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	Through    string `json:"through,omitempty"`
	ForeignKey string `json:"foreignKey"`
	OtherKey   string `json:"otherKey,omitempty"`
}

type metaEntity struct {
	Entity       string              `json:"entity"`
	Table        string              `json:"table"`
	Schema       string              `json:"schema,omitempty"`
	Fields       []metaField         `json:"fields"`
	Associations []metaAssociation   `json:"associations"`
	Scopes       map[string][]string `json:"scopes,omitempty"`
	Includes     map[string]string   `json:"includes,omitempty"`
	Constraints  map[string]any      `json:"constraints,omitempty"` // {"unique":[["code"],["base","quote","date"]]}
}

func MetaEntityHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		et, ok := eng.Registry().Lookup(c.Param("entity"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
			return
		}
		c.JSON(http.StatusOK, describeEntity(et))
	}
}

func describeEntity(et *model.EntityType) metaEntity {
	out := metaEntity{
		Entity:       et.Name,
		Table:        et.Table,
		Schema:       et.Pinned,
		Fields:       make([]metaField, 0, len(et.Attributes)),
		Associations: make([]metaAssociation, 0, len(et.Associations)),
	}
	for _, a := range et.Attributes {
		out.Fields = append(out.Fields, metaField{
			Name:       a.Name,
			Type:       a.Type,
			ElemType:   a.ElemType,
			Enum:       append([]string(nil), a.Enum...),
			PrimaryKey: a.PrimaryKey,
			Required:   a.Required,
			Unique:     a.Unique,
			Readonly:   a.Readonly,
			Default:    a.Default,
			References: a.References,
		})
	}
	for _, a := range et.Associations {
		out.Associations = append(out.Associations, metaAssociation{
			Name:       a.Name,
			Alias:      a.Alias,
			Kind:       a.Kind.String(),
			Target:     a.Target,
			Through:    a.Through,
			ForeignKey: a.ForeignKey,
			OtherKey:   a.OtherKey,
		})
	}
	if len(et.Scopes) > 0 {
		out.Scopes = make(map[string][]string, len(et.Scopes))
		for name, sc := range et.Scopes {
			ex := append([]string(nil), sc.Exclude...)
			sort.Strings(ex)
			out.Scopes[name] = ex
		}
	}
	if len(et.Includes) > 0 {
		out.Includes = make(map[string]string, len(et.Includes))
		for k, v := range et.Includes {
			out.Includes[k] = v
		}
	}
	if len(et.Unique) > 0 {
		uniq := make([][]string, 0, len(et.Unique))
		for _, set := range et.Unique {
			uniq = append(uniq, append([]string(nil), set...))
		}
		out.Constraints = map[string]any{"unique": uniq}
	}
	return out
}
