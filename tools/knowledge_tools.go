package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

func (e *Executor) searchKnowledge(ctx context.Context, agentID uint, input map[string]any) string {
	query := stringArg(input, "query")
	results, err := e.knowledge.Search(ctx, agentID, query, 5)
	if err != nil {
		logrus.WithError(err).Warn("[TOOLS] search_knowledge failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[מסמך: %s] %s", r.Document, truncateRunes(r.Content, 500)))
	}
	if len(lines) == 0 {
		return "לא נמצא מידע רלוונטי"
	}
	return strings.Join(lines, "\n\n")
}

func (e *Executor) queryProducts(ctx context.Context, agentID uint, input map[string]any) string {
	search := stringArg(input, "search")
	filters, _ := input["filters"].(map[string]any)

	tables, err := e.knowledge.ListTables(ctx, agentID)
	if err != nil {
		logrus.WithError(err).Warn("[TOOLS] query_products failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}

	var lines []string
	for _, table := range tables {
		var rows []map[string]any
		switch {
		case search != "":
			rows, err = e.knowledge.SearchRows(ctx, table.ID, search, 5)
		case len(filters) > 0:
			rows, err = e.knowledge.QueryRows(ctx, table.ID, filters)
			if len(rows) > 10 {
				rows = rows[:10]
			}
		default:
			rows, err = e.knowledge.QueryRows(ctx, table.ID, nil)
			if len(rows) > 5 {
				rows = rows[:5]
			}
		}
		if err != nil {
			logrus.WithError(err).Warnf("[TOOLS] query_products table=%d failed", table.ID)
			continue
		}
		for _, row := range rows {
			lines = append(lines, rowLine(row))
		}
	}
	if len(lines) == 0 {
		return "לא נמצאו תוצאות"
	}
	return strings.Join(lines, "\n")
}

// rowLine renders one table row as "col: value | col: value" with stable order.
func rowLine(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k, v := range row {
		if v == nil || fmt.Sprint(v) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, row[k]))
	}
	return strings.Join(parts, " | ")
}
