package db

import (
	_ "embed"
	"fmt"
	"strings"
	"time"
)

//go:embed sql/postgres.sql
var postgresSchema string

//go:embed sql/sqlite.sql
var sqliteSchema string

// splitStatements breaks a schema file on statement-terminating semicolons.
func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";\n") {
		stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// quarter describes one range partition of temperature_data.
type quarter struct {
	Name string
	From time.Time
	To   time.Time
}

func quarterOf(ts time.Time) quarter {
	ts = ts.UTC()
	q := (int(ts.Month())-1)/3 + 1
	from := time.Date(ts.Year(), time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return quarter{
		Name: fmt.Sprintf("temperature_data_%d_q%d", ts.Year(), q),
		From: from,
		To:   from.AddDate(0, 3, 0),
	}
}

// quartersSpanning returns every quarter touched by [lo, hi], in order.
func quartersSpanning(lo, hi time.Time) []quarter {
	var out []quarter
	for q := quarterOf(lo); !q.From.After(hi.UTC()); q = quarterOf(q.To) {
		out = append(out, q)
	}
	return out
}
