package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"strata/internal/engine"
)

// keyFilter — фильтр по первичному ключу из :id; неизвестную сущность отклонит движок
func keyFilter(eng *engine.Engine, entity, id string) map[string]any {
	pk := "id"
	if et, ok := eng.Registry().Lookup(entity); ok && et.PrimaryKey() != nil {
		pk = et.PrimaryKey().Name
	}
	return map[string]any{pk: id}
}

// GET /api/:entity
func ListHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ent := c.Param("entity")
		lp := parseListParams(c.Request.URL.Query())
		o := options(c)

		rows, err := eng.List(c.Request.Context(), ent, lp.Filter, engine.ListOptions{
			Order:   lp.Order,
			Limit:   lp.Limit,
			Offset:  lp.Offset,
			Include: lp.Include,
		}, o)
		if err != nil {
			respondError(c, log, err)
			return
		}
		total, err := eng.Count(c.Request.Context(), ent, lp.Filter, o)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if rows == nil {
			rows = []engine.Entity{}
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"total":   total,
			"sent":    len(rows),
			"result":  rows,
		})
	}
}

// GET /api/:entity/_count
func CountHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, err := eng.Count(c.Request.Context(), c.Param("entity"), parseFilter(c.Request.URL.Query()), options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": total})
	}
}

// GET /api/:entity/:id
func GetOneHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ent := c.Param("entity")
		row, err := eng.Read(c.Request.Context(), ent, keyFilter(eng, ent, c.Param("id")), options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// POST /api/:entity
func CreateHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		obj, ok := bindDTO(c)
		if !ok {
			return
		}
		row, err := eng.Create(c.Request.Context(), c.Param("entity"), obj, options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, row)
	}
}

// PUT|PATCH /api/:entity/:id — частичное обновление в обоих случаях
func UpdateHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ent := c.Param("entity")
		obj, ok := bindDTO(c)
		if !ok {
			return
		}
		updated, _, err := eng.Update(c.Request.Context(), ent, keyFilter(eng, ent, c.Param("id")), obj, options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DELETE /api/:entity/:id — в ответе состояние до удаления
func DeleteHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ent := c.Param("entity")
		row, err := eng.Delete(c.Request.Context(), ent, keyFilter(eng, ent, c.Param("id")), options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

// POST /api/:entity/_bulk
func BulkCreateHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var items []engine.Entity
		if err := c.ShouldBindJSON(&items); err != nil || len(items) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON array"})
			return
		}
		rows, err := eng.BulkCreate(c.Request.Context(), c.Param("entity"), items, options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, rows)
	}
}

// PATCH /api/:entity/_bulk?<filter> — фильтр обязателен, иначе обновилась бы вся таблица
func BulkPatchHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := parseFilter(c.Request.URL.Query())
		if len(filter) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Filter is required"})
			return
		}
		obj, ok := bindDTO(c)
		if !ok {
			return
		}
		updated, previous, err := eng.BulkUpdate(c.Request.Context(), c.Param("entity"), filter, obj, options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"updated": updated, "previous": previous})
	}
}

// POST /api/:entity/_validate[?partial=true]
func ValidateHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		obj, ok := bindDTO(c)
		if !ok {
			return
		}
		errs, err := eng.Validate(c.Request.Context(), c.Param("entity"), obj, flag(c.Request.URL.Query(), "partial"), options(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		if len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ===== Транзакции =====

// POST /api/_tx
func BeginHandler(eng *engine.Engine, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := eng.StartTransaction(c.Request.Context())
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transactionId": id})
	}
}

// POST /api/_tx/:id/commit | /api/_tx/:id/rollback
func FinishHandler(eng *engine.Engine, log zerolog.Logger, commit bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var err error
		if commit {
			err = eng.Commit(c.Request.Context(), id)
		} else {
			err = eng.Rollback(c.Request.Context(), id)
		}
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "transactionId": id})
	}
}
