// Package csv exports tables as CSV files, one file per table. Vector
// columns expand to _x/_y/_z triples and unknown cells export as empty
// strings so downstream tooling can tell them from true zeros.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/table"
	"github.com/replaymetrics/pivot/pkg/logger"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// Sink writes each exported table to <dir>/<table name>.csv.
type Sink struct {
	dir string
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

// New builds a sink writing into the given directory, creating it if
// needed.
func New(dir string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	s := &Sink{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("csv")
	}
	return s, nil
}

// Export writes one table.
func (s *Sink) Export(ctx context.Context, t *table.Table) error {
	path := filepath.Join(s.dir, t.Name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header(t.Columns)); err != nil {
		return fmt.Errorf("writing header for %s: %w", t.Name, err)
	}

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
		if err := w.Write(cells(t.Columns, row)); err != nil {
			return fmt.Errorf("writing row for %s: %w", t.Name, err)
		}
		rows++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", t.Name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	metrics.RecordTableExported(rows)
	s.log.Info(ctx, "table exported",
		logger.String("table", t.Name),
		logger.String("path", path),
		logger.Int("rows", rows),
	)
	return nil
}

// header expands vector columns into coordinate triples.
func header(cols []table.Column) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c.Kind == model.KindVector {
			out = append(out, c.Name+"_x", c.Name+"_y", c.Name+"_z")
			continue
		}
		out = append(out, c.Name)
	}
	return out
}

func cells(cols []table.Column, row table.Row) []string {
	out := make([]string, 0, len(cols))
	for i, c := range cols {
		v := row.Cells[i]
		if c.Kind == model.KindVector {
			if !v.Known {
				out = append(out, "", "", "")
				continue
			}
			out = append(out,
				formatFloat(v.Vec.X),
				formatFloat(v.Vec.Y),
				formatFloat(v.Vec.Z),
			)
			continue
		}
		out = append(out, formatScalar(v))
	}
	return out
}

func formatScalar(v model.Value) string {
	if !v.Known {
		return ""
	}
	switch v.Kind {
	case model.KindInt:
		return strconv.FormatInt(v.AsInt(), 10)
	case model.KindBool:
		if v.Flag {
			return "true"
		}
		return "false"
	case model.KindString:
		return v.Str
	default:
		return formatFloat(v.Num)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
