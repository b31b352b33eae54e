package sink

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// DefaultTable is used by the database sinks when no table is configured.
const DefaultTable = "search_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// insertColumns is run_id followed by crawler.Columns.
func insertColumns() string {
	return "run_id, " + strings.Join(crawler.Columns, ", ")
}

func rowArgs(runID string, rec crawler.Record) []any {
	args := make([]any, 0, len(crawler.Columns)+1)
	args = append(args, runID)
	for _, v := range rec.Row() {
		args = append(args, v)
	}
	return args
}

func placeholders(n int, format func(i int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = format(i + 1)
	}
	return strings.Join(parts, ",")
}
