package pg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ApplyDDL выполняет map[ключ]sql в порядке ключей. Ожидается идемпотентный DDL.
func ApplyDDL(ctx context.Context, db *gorm.DB, ddl map[string]string, log zerolog.Logger) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		for _, stmt := range splitStatements(sqlText) {
			if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
				// повторное добавление FK: duplicate_object (42710)
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "42710" {
					log.Debug().Str("constraint", pgErr.ConstraintName).Msg("ddl skipped, already exists")
					continue
				}
				return fmt.Errorf("ddl apply failed (%s): %w", k, err)
			}
		}
	}
	return nil
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, s := range strings.Split(sqlText, ";\n") {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
