// api/router.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"strata/internal/engine"
)

// NewRouter собирает маршруты поверх движка. reload — каталоги для /api/_admin/reload.
func NewRouter(eng *engine.Engine, reload ReloadRequest, log zerolog.Logger) *gin.Engine {
	log = log.With().Str("component", "api").Logger()
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(log))

	apiGroup := r.Group("/api")
	{
		// служебные маршруты — СНАЧАЛА
		apiGroup.GET("/_meta", MetaListHandler(eng))
		apiGroup.GET("/_meta/:entity", MetaEntityHandler(eng))
		apiGroup.POST("/_tx", BeginHandler(eng, log))
		apiGroup.POST("/_tx/:id/commit", FinishHandler(eng, log, true))
		apiGroup.POST("/_tx/:id/rollback", FinishHandler(eng, log, false))
		apiGroup.POST("/_admin/reload", AdminReloadHandler(eng, reload, log))

		apiGroup.GET("/:entity/_count", CountHandler(eng, log))
		apiGroup.POST("/:entity/_bulk", BulkCreateHandler(eng, log))
		apiGroup.PATCH("/:entity/_bulk", BulkPatchHandler(eng, log))
		apiGroup.POST("/:entity/_validate", ValidateHandler(eng, log))

		// обычные CRUD
		apiGroup.POST("/:entity", CreateHandler(eng, log))
		apiGroup.GET("/:entity", ListHandler(eng, log))
		apiGroup.GET("/:entity/:id", GetOneHandler(eng, log))
		apiGroup.PUT("/:entity/:id", UpdateHandler(eng, log))
		apiGroup.PATCH("/:entity/:id", UpdateHandler(eng, log))
		apiGroup.DELETE("/:entity/:id", DeleteHandler(eng, log))
	}
	return r
}

// RunServer обслуживает запросы до отмены ctx, затем даёт 10 секунд на завершение
func RunServer(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func accessLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("took", time.Since(start)).
			Str("tenant", c.GetHeader(headerTenant)).
			Msg("request")
	}
}
