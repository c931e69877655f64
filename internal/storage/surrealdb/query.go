package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/vire-analytics/internal/common"
)

// queryRows runs a single-statement query and returns the rows of its first result.
func queryRows[T any](ctx context.Context, db *surrealdb.DB, sql string, vars map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, db, sql, vars)
	if err != nil {
		return nil, err
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// upsertContent writes a whole record, retrying transient write conflicts.
func upsertContent(ctx context.Context, db *surrealdb.DB, rid surrealmodels.RecordID, content any) error {
	sql := "UPSERT $rid CONTENT $content"
	vars := map[string]any{"rid": rid, "content": content}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[any](ctx, db, sql, vars)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to upsert %s:%v after retries: %w", rid.Table, rid.ID, lastErr)
}

func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}

// dateBound formats t as a date key; the zero time maps to def.
func dateBound(t time.Time, def string) string {
	if t.IsZero() {
		return def
	}
	return common.FormatDate(t)
}
