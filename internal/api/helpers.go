package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"strata/internal/engine"
	"strata/internal/model"
	"strata/internal/store"
)

// statusFor: NotFound -> 404, ValidationFailed -> 400 (409 при конфликте ключей), прочее -> 500
func statusFor(err error) int {
	switch engine.KindOf(err) {
	case engine.NotFound:
		return http.StatusNotFound
	case engine.ValidationFailed:
		for _, fe := range engine.FieldsOf(err) {
			if fe.Code == model.ErrUniqueViolation || fe.Code == model.ErrRefNotFound {
				return http.StatusConflict
			}
		}
		return http.StatusBadRequest
	}
	if errors.Is(err, store.ErrUnknownTransaction) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError пишет ошибку движка; 5xx логируются, текст наружу не уходит
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusInternalServerError:
		log.Error().Err(err).Str("method", c.Request.Method).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "Internal error"})
	case engine.KindOf(err) == engine.ValidationFailed:
		c.JSON(status, gin.H{"errors": engine.FieldsOf(err)})
	default:
		c.JSON(status, gin.H{"error": err.Error()})
	}
}

// bindDTO читает тело запроса как объект
func bindDTO(c *gin.Context) (engine.Entity, bool) {
	var obj map[string]any
	if err := c.ShouldBindJSON(&obj); err != nil || obj == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return nil, false
	}
	return obj, true
}
