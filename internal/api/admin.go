package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"strata/internal/dsl"
	"strata/internal/engine"
)

// ReloadRequest — тело POST /api/_admin/reload; пустые поля берутся из конфигурации
type ReloadRequest struct {
	DSLRoot   string `json:"dsl_root"`   // директория с *.dsl
	EnumsRoot string `json:"enums_root"` // директория со справочниками enum
}

// AdminReloadHandler перечитывает DSL и регистрирует сущности, которых ещё нет в реестре.
// Изменение уже зарегистрированных типов на лету не поддерживается.
func AdminReloadHandler(eng *engine.Engine, defaults ReloadRequest, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ReloadRequest
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		dslRoot := strings.TrimSpace(req.DSLRoot)
		if dslRoot == "" {
			dslRoot = defaults.DSLRoot
		}
		enumsRoot := strings.TrimSpace(req.EnumsRoot)
		if enumsRoot == "" {
			enumsRoot = defaults.EnumsRoot
		}

		// 1) читаем схемы и справочники
		decls, err := dsl.LoadAllEntities(dslRoot)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "DSL load error", "details": err.Error()})
			return
		}
		enums, err := dsl.LoadEnumCatalogs(enumsRoot)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Enum load error", "details": err.Error()})
			return
		}
		if err := dsl.ApplyEnums(decls, enums); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Enum load error", "details": err.Error()})
			return
		}

		// 2) только новые сущности
		fresh := make([]*dsl.Entity, 0, len(decls))
		for _, d := range decls {
			if _, known := eng.Registry().Lookup(d.Name); !known {
				fresh = append(fresh, d)
			}
		}
		if len(fresh) == 0 {
			c.JSON(http.StatusOK, gin.H{"ok": true, "dslRoot": dslRoot, "registered": []string{}})
			return
		}

		// 3) линт, связи, include и таблицы — внутри Register
		types, err := eng.Register(c.Request.Context(), fresh)
		if err != nil {
			if engine.KindOf(err) == engine.Configuration {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":   "schema has blocking issues",
					"details": err.Error(),
					"hint":    "fix DSL and retry",
					"dslRoot": dslRoot, "enumsRoot": enumsRoot,
				})
				return
			}
			respondError(c, log, err)
			return
		}
		names := make([]string, 0, len(types))
		for _, et := range types {
			names = append(names, et.Name)
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"dslRoot":    dslRoot,
			"enumsRoot":  enumsRoot,
			"registered": names,
			"entities":   len(eng.Registry().All()),
		})
	}
}
