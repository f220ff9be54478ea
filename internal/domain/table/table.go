// Package table is the export boundary of the pipeline. It shapes
// finalized series, derived rows and transient summaries into tables with
// a stable column set per entity class, and hands exporters a lazy row
// iterator. Serialization belongs to the Sink implementations; nothing in
// this package writes storage.
package table

import (
	"context"

	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/internal/domain/transient"
)

// Column describes one exported column.
type Column struct {
	Name string
	Kind model.Kind
}

// Row is one exported row; Cells align with the table's Columns.
type Row struct {
	Cells []model.Value
}

// Iterator yields rows one at a time. Next returns false when exhausted.
type Iterator interface {
	Next() (Row, bool)
}

// Table is a named, typed row set for one entity class. Rows are produced
// lazily; calling Rows again restarts iteration from the beginning.
type Table struct {
	Name    string
	Class   string
	Columns []Column
	rows    func() Iterator
}

// New builds a table over a restartable row producer.
func New(name, class string, columns []Column, rows func() Iterator) *Table {
	return &Table{Name: name, Class: class, Columns: columns, rows: rows}
}

// Rows starts a fresh iteration over the table.
func (t *Table) Rows() Iterator {
	return t.rows()
}

// Sink consumes one table. Implementations own the serialization format.
type Sink interface {
	Export(ctx context.Context, t *Table) error
}

// Leading key columns shared by every per-tick table.
const (
	ColHandle = "handle"
	ColTick   = "tick"
)

// sliceIterator walks a pre-shaped row slice.
type sliceIterator struct {
	rows []Row
	i    int
}

func (it *sliceIterator) Next() (Row, bool) {
	if it.i >= len(it.rows) {
		return Row{}, false
	}
	r := it.rows[it.i]
	it.i++
	return r, true
}

// seriesIterator walks every snapshot of every series without
// materializing rows up front.
type seriesIterator struct {
	class  *schema.Class
	list   []*series.EntitySeries
	si, ti int
}

func (it *seriesIterator) Next() (Row, bool) {
	for it.si < len(it.list) {
		s := it.list[it.si]
		if it.ti >= s.Len() {
			it.si++
			it.ti = 0
			continue
		}
		snap := s.Snapshots[it.ti]
		it.ti++

		cells := make([]model.Value, 0, 2+len(it.class.Fields))
		cells = append(cells,
			model.Int(int64(s.Handle)),
			model.Int(snap.Tick),
		)
		for _, f := range it.class.Fields {
			v, ok := snap.Fields[f.Name]
			if !ok {
				v = model.Unknown(f.Kind)
			}
			cells = append(cells, v)
		}
		return Row{Cells: cells}, true
	}
	return Row{}, false
}

// Series builds the per-tick state table of one entity class. Columns are
// the two key columns followed by the class's declared fields in schema
// order, identical for every run with the same configuration.
func Series(class *schema.Class, list []*series.EntitySeries) *Table {
	columns := make([]Column, 0, 2+len(class.Fields))
	columns = append(columns,
		Column{Name: ColHandle, Kind: model.KindInt},
		Column{Name: ColTick, Kind: model.KindInt},
	)
	for _, f := range class.Fields {
		columns = append(columns, Column{Name: f.Name, Kind: f.Kind})
	}
	return New(class.Name+"_series", class.Name, columns, func() Iterator {
		return &seriesIterator{class: class, list: list}
	})
}

// Motion builds the per-tick derived motion table of one class. Signals
// that could not be computed for a row export as unknown.
func Motion(class string, results []*derive.Result) *Table {
	columns := []Column{
		{Name: ColHandle, Kind: model.KindInt},
		{Name: ColTick, Kind: model.KindInt},
		{Name: "yaw_delta", Kind: model.KindFloat},
		{Name: "pitch_delta", Kind: model.KindFloat},
		{Name: "speed", Kind: model.KindFloat},
		{Name: "accel", Kind: model.KindFloat},
	}
	return New(class+"_motion", class, columns, func() Iterator {
		rows := make([]Row, 0)
		for _, res := range results {
			for _, m := range res.Motion {
				rows = append(rows, Row{Cells: []model.Value{
					model.Int(int64(m.Handle)),
					model.Int(m.Tick),
					floatOrUnknown(m.YawDelta, m.HasYawDelta),
					floatOrUnknown(m.PitchDelta, m.HasPitchDelta),
					floatOrUnknown(m.Speed, m.HasSpeed),
					floatOrUnknown(m.Accel, m.HasAccel),
				}})
			}
		}
		return &sliceIterator{rows: rows}
	})
}

// Visibility builds the sparse visibility edge table of one class.
func Visibility(class string, results []*derive.Result) *Table {
	columns := []Column{
		{Name: ColHandle, Kind: model.KindInt},
		{Name: ColTick, Kind: model.KindInt},
		{Name: "visible", Kind: model.KindBool},
	}
	return New(class+"_visibility", class, columns, func() Iterator {
		rows := make([]Row, 0)
		for _, res := range results {
			for _, v := range res.Visibility {
				rows = append(rows, Row{Cells: []model.Value{
					model.Int(int64(v.Handle)),
					model.Int(v.Tick),
					model.Bool(v.Visible),
				}})
			}
		}
		return &sliceIterator{rows: rows}
	})
}

// Summaries builds the lifecycle summary table of one transient class.
func Summaries(class string, sums []*transient.Summary) *Table {
	columns := []Column{
		{Name: ColHandle, Kind: model.KindInt},
		{Name: "spawn_tick", Kind: model.KindInt},
		{Name: "destroy_tick", Kind: model.KindInt},
		{Name: "owner", Kind: model.KindInt},
		{Name: "owner_slot", Kind: model.KindInt},
		{Name: "expiry", Kind: model.KindString},
		{Name: "terminal_pos", Kind: model.KindVector},
	}
	return New(class+"_summary", class, columns, func() Iterator {
		rows := make([]Row, 0, len(sums))
		for _, s := range sums {
			if s.Class != class {
				continue
			}
			owner := model.Unknown(model.KindInt)
			if s.Owner >= 0 {
				owner = model.Int(int64(s.Owner))
			}
			ownerSlot := model.Unknown(model.KindInt)
			if s.OwnerSlot != model.NoOwner {
				ownerSlot = model.Int(int64(s.OwnerSlot))
			}
			pos := model.Unknown(model.KindVector)
			if s.HasTerminalPos {
				pos = model.Vector(s.TerminalPos)
			}
			rows = append(rows, Row{Cells: []model.Value{
				model.Int(int64(s.Handle)),
				model.Int(s.SpawnTick),
				model.Int(s.DestroyTick),
				owner,
				ownerSlot,
				model.String(string(s.Expiry)),
				pos,
			}})
		}
		return &sliceIterator{rows: rows}
	})
}

func floatOrUnknown(v float64, known bool) model.Value {
	if !known {
		return model.Unknown(model.KindFloat)
	}
	return model.Float(v)
}
