// Package stream normalizes the externally decoded record sequence into
// ordered per-tick batches.
//
// The ingester owns the two structural guarantees the rest of the pipeline
// assumes: ticks never decrease (violations are fatal), and within one
// tick a slot's destroy precedes its spawn, so coalesced destroy-then-
// spawn resolves as two distinct entities. Records of unrelated slots keep
// their arrival order.
package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/pkg/metrics"
)

// Source is the lazy input sequence handed in by the caller. Next returns
// io.EOF after the final record; the sequence is finite and not
// restartable (one pass over a recorded session).
type Source interface {
	Next(ctx context.Context) (*model.RawRecord, error)
}

// Ingester pulls from a Source and yields one tick batch at a time.
type Ingester struct {
	src      Source
	started  bool
	lastTick int64
	pending  *model.RawRecord
	eof      bool
}

// New wraps a source.
func New(src Source) *Ingester {
	return &Ingester{src: src}
}

// NextTick returns the next tick and all its records, ordered. Returns
// io.EOF once the source is exhausted. An out-of-order tick aborts the
// whole run: downstream gap filling is meaningless without ordering.
func (i *Ingester) NextTick(ctx context.Context) (int64, []*model.RawRecord, error) {
	if i.eof && i.pending == nil {
		return 0, nil, io.EOF
	}

	var batch []*model.RawRecord
	if i.pending != nil {
		batch = append(batch, i.pending)
		i.pending = nil
	}

	for {
		rec, err := i.src.Next(ctx)
		if err == io.EOF {
			i.eof = true
			break
		}
		if err != nil {
			return 0, nil, fmt.Errorf("reading record stream: %w", err)
		}
		metrics.RecordIngested()

		if i.started && rec.Tick < i.lastTick {
			return 0, nil, fmt.Errorf("%w: tick %d after tick %d", ErrOutOfOrderTick, rec.Tick, i.lastTick)
		}

		if len(batch) == 0 {
			i.started = true
			i.lastTick = rec.Tick
			batch = append(batch, rec)
			continue
		}
		if rec.Tick == i.lastTick {
			batch = append(batch, rec)
			continue
		}
		// First record of the following tick; hold it for the next call.
		i.pending = rec
		i.lastTick = rec.Tick
		break
	}

	if len(batch) == 0 {
		return 0, nil, io.EOF
	}
	metrics.RecordTickObserved()
	orderSameSlot(batch)
	return batch[0].Tick, batch, nil
}

// orderSameSlot moves, per slot, destroys ahead of spawns within a single
// tick batch. Only records of slots carrying both a destroy and a spawn
// move; everything else keeps arrival order.
func orderSameSlot(batch []*model.RawRecord) {
	for {
		moved := false
		firstSpawn := make(map[int]int)
		for idx, rec := range batch {
			switch rec.Lifecycle {
			case model.LifecycleSpawn:
				if _, ok := firstSpawn[rec.Slot]; !ok {
					firstSpawn[rec.Slot] = idx
				}
			case model.LifecycleDestroy:
				fs, ok := firstSpawn[rec.Slot]
				if !ok || fs > idx {
					continue
				}
				// Rotate the destroy in front of the spawn it must
				// precede, shifting the records between them right.
				r := batch[idx]
				copy(batch[fs+1:idx+1], batch[fs:idx])
				batch[fs] = r
				moved = true
			}
			if moved {
				break
			}
		}
		if !moved {
			return
		}
	}
}
