package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/replaymetrics/pivot/internal/domain/derive"
	"github.com/replaymetrics/pivot/internal/domain/registry"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/internal/domain/series"
	"github.com/replaymetrics/pivot/internal/domain/table"
	"github.com/replaymetrics/pivot/internal/domain/transient"
)

// MemoryStore implements Store with in-process maps. The sequential pass
// writes series and summaries; derivation workers write results
// concurrently, so every write path locks.
type MemoryStore struct {
	mu        sync.RWMutex
	series    map[registry.Handle]*series.EntitySeries
	derived   map[registry.Handle]*derive.Result
	summaries []*transient.Summary
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series:  make(map[registry.Handle]*series.EntitySeries),
		derived: make(map[registry.Handle]*derive.Result),
	}
}

// PutSeries stores one finalized entity series.
func (m *MemoryStore) PutSeries(ctx context.Context, s *series.EntitySeries) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.series[s.Handle]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateHandle, s.Handle)
	}
	m.series[s.Handle] = s
	return nil
}

// PutDerived stores the derived rows of one entity.
func (m *MemoryStore) PutDerived(ctx context.Context, res *derive.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.derived[res.Handle]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateHandle, res.Handle)
	}
	m.derived[res.Handle] = res
	return nil
}

// PutSummary stores one transient lifecycle summary.
func (m *MemoryStore) PutSummary(ctx context.Context, sum *transient.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.summaries = append(m.summaries, sum)
	return nil
}

// Series returns the stored series of one entity.
func (m *MemoryStore) Series(ctx context.Context, h registry.Handle) (*series.EntitySeries, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.series[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, h)
	}
	return s, nil
}

// Derived returns the derived rows of one entity.
func (m *MemoryStore) Derived(ctx context.Context, h registry.Handle) (*derive.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.derived[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, h)
	}
	return res, nil
}

// Summaries returns the stored transient lifecycle summaries.
func (m *MemoryStore) Summaries(ctx context.Context) []*transient.Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*transient.Summary(nil), m.summaries...)
}

// Count returns the number of stored series.
func (m *MemoryStore) Count(ctx context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.series)
}

// Tables shapes the stored artifacts into export tables. Per class: the
// state table, the motion and visibility tables when derived rows exist,
// and for transient classes the summary table. Series within a table run
// in ascending handle order so exports are reproducible.
func (m *MemoryStore) Tables(ctx context.Context, schemas *schema.Set) []*table.Table {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byClass := make(map[string][]*series.EntitySeries)
	for _, s := range m.series {
		byClass[s.Class] = append(byClass[s.Class], s)
	}
	derivedByClass := make(map[string][]*derive.Result)
	for _, res := range m.derived {
		derivedByClass[res.Class] = append(derivedByClass[res.Class], res)
	}

	var out []*table.Table
	for _, class := range schemas.Classes() {
		list := byClass[class.Name]
		if len(list) == 0 {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Handle < list[j].Handle })
		out = append(out, table.Series(class, list))

		if derived := derivedByClass[class.Name]; len(derived) > 0 {
			sort.Slice(derived, func(i, j int) bool { return derived[i].Handle < derived[j].Handle })
			out = append(out, table.Motion(class.Name, derived))
			out = append(out, table.Visibility(class.Name, derived))
		}

		if class.Transient {
			out = append(out, table.Summaries(class.Name, m.summaries))
		}
	}
	return out
}
