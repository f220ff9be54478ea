// Package repository stores the pipeline's finalized artifacts: dense
// entity series, derived feature rows and transient summaries. The store
// is the hand-off point between the sequential identity pass, the
// concurrent derivation workers and the exporters.
package repository

import (
	"context"

	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/internal/domain/table"
	"github.com/replaymetrics/pivot/internal/domain/transient"
)

// Store provides write access for the pipeline and table views for
// exporters. Implementations must be safe for concurrent writers.
type Store interface {
	// PutSeries stores one finalized entity series.
	PutSeries(ctx context.Context, s *series.EntitySeries) error

	// PutDerived stores the derived rows of one entity.
	PutDerived(ctx context.Context, res *derive.Result) error

	// PutSummary stores one transient lifecycle summary.
	PutSummary(ctx context.Context, sum *transient.Summary) error

	// Series returns the stored series of one entity.
	// Returns ErrNotFound for an unknown handle.
	Series(ctx context.Context, h registry.Handle) (*series.EntitySeries, error)

	// Count returns the number of stored series.
	Count(ctx context.Context) int

	// Tables shapes everything stored into export tables, one set per
	// entity class that produced data, in stable class order.
	Tables(ctx context.Context, schemas *schema.Set) []*table.Table
}
