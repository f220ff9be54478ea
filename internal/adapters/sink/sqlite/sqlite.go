// Package sqlite exports tables into a single SQLite database file, one
// database table per exported table. Vector columns expand to _x/_y/_z
// REAL columns and unknown cells store as NULL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/table"
	"github.com/replaymetrics/pivot/pkg/logger"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// Sink writes exported tables into one database file.
type Sink struct {
	db  *sql.DB
	log logger.Logger
}

// Option applies a configuration option to the Sink.
type Option func(*Sink)

// WithLogger sets a custom logger for the sink.
func WithLogger(l logger.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// New opens (or creates) the database file.
func New(path string, opts ...Option) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	s := &Sink{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("sqlite")
	}
	return s, nil
}

// Close releases the database handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Export creates the table if needed and writes every row inside one
// transaction.
func (s *Sink) Export(ctx context.Context, t *table.Table) error {
	names, defs := expand(t.Columns)

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)", t.Name, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", t.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", t.Name, err)
	}
	defer tx.Rollback()

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?,", len(names)), ",") + ")"
	insert := fmt.Sprintf("INSERT INTO %q (%s) VALUES %s",
		t.Name, strings.Join(quoted(names), ", "), placeholders)
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", t.Name, err)
	}
	defer stmt.Close()

	rows := 0
	it := t.Rows()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		row, ok := it.Next()
		if !ok {
			break
		}
		if _, err := stmt.ExecContext(ctx, args(t.Columns, row)...); err != nil {
			return fmt.Errorf("inserting into %s: %w", t.Name, err)
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", t.Name, err)
	}

	metrics.RecordTableExported(rows)
	s.log.Info(ctx, "table exported",
		logger.String("table", t.Name),
		logger.Int("rows", rows),
	)
	return nil
}

// expand maps exported columns to SQL column names and definitions.
func expand(cols []table.Column) (names, defs []string) {
	for _, c := range cols {
		if c.Kind == model.KindVector {
			for _, axis := range []string{"_x", "_y", "_z"} {
				names = append(names, c.Name+axis)
				defs = append(defs, fmt.Sprintf("%q REAL", c.Name+axis))
			}
			continue
		}
		names = append(names, c.Name)
		defs = append(defs, fmt.Sprintf("%q %s", c.Name, sqlType(c.Kind)))
	}
	return names, defs
}

func quoted(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf("%q", n)
	}
	return out
}

func sqlType(k model.Kind) string {
	switch k {
	case model.KindInt, model.KindBool:
		return "INTEGER"
	case model.KindString:
		return "TEXT"
	default:
		return "REAL"
	}
}

// args flattens one row into driver values; unknown cells become NULL.
func args(cols []table.Column, row table.Row) []any {
	out := make([]any, 0, len(cols))
	for i, c := range cols {
		v := row.Cells[i]
		if c.Kind == model.KindVector {
			if !v.Known {
				out = append(out, nil, nil, nil)
				continue
			}
			out = append(out, v.Vec.X, v.Vec.Y, v.Vec.Z)
			continue
		}
		if !v.Known {
			out = append(out, nil)
			continue
		}
		switch c.Kind {
		case model.KindInt:
			out = append(out, v.AsInt())
		case model.KindBool:
			if v.Flag {
				out = append(out, int64(1))
			} else {
				out = append(out, int64(0))
			}
		case model.KindString:
			out = append(out, v.Str)
		default:
			out = append(out, v.Num)
		}
	}
	return out
}
