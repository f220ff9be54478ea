// Package jsonl reads externally-decoded replay records from a JSON
// lines stream, one record per line, and shapes them into RawRecords for
// the pipeline. The external parser owns the binary replay format; this
// adapter only coerces its JSON output into declared field values.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/replaymetrics/pivot/internal/domain/model"
	"github.com/replaymetrics/pivot/internal/domain/schema"
	"github.com/replaymetrics/pivot/pkg/logger"
)

// maxLineBytes bounds a single record line.
const maxLineBytes = 1 << 20

// rawLine is the wire shape of one decoded record.
type rawLine struct {
	Tick      int64                      `json:"tick"`
	Slot      int                        `json:"slot"`
	Class     string                     `json:"class"`
	Lifecycle string                     `json:"lifecycle"`
	AccountID int64                      `json:"account_id"`
	Owner     *int                       `json:"owner"`
	Expiry    string                     `json:"expiry"`
	Fields    map[string]json.RawMessage `json:"fields"`
}

// Source decodes a JSON-lines stream into RawRecords. It implements the
// ingester's record source contract; Next returns io.EOF at end of input.
type Source struct {
	scanner  *bufio.Scanner
	schemas  *schema.Set
	skipBots bool
	line     int

	// Upstream reports position as an XY pair plus a separate
	// "position[2]" scalar; lastPos merges them per slot.
	lastPos map[int]model.Vec3

	log logger.Logger
}

// Option applies a configuration option to the Source.
type Option func(*Source)

// WithSkipBots drops records whose account id is in the bot range.
func WithSkipBots(skip bool) Option {
	return func(s *Source) { s.skipBots = skip }
}

// WithLogger sets a custom logger for the source.
func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds a source over a JSON-lines reader.
func New(r io.Reader, schemas *schema.Set, opts ...Option) *Source {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	s := &Source{
		scanner: sc,
		schemas: schemas,
		lastPos: make(map[int]model.Vec3),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("jsonl")
	}
	return s
}

// Next returns the next decoded record, skipping blank lines and filtered
// bot records. A malformed line is a hard error: the input is machine
// generated, so damage means truncation or corruption, not noise.
func (s *Source) Next(ctx context.Context) (*model.RawRecord, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading record stream: %w", err)
			}
			return nil, io.EOF
		}
		s.line++

		text := strings.TrimSpace(s.scanner.Text())
		if text == "" {
			continue
		}

		var raw rawLine
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, s.line, err)
		}

		if s.skipBots && raw.AccountID > 0 && raw.AccountID <= model.BotAccountIDMax {
			continue
		}

		rec, err := s.shape(ctx, &raw)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, s.line, err)
		}
		return rec, nil
	}
}

func (s *Source) shape(ctx context.Context, raw *rawLine) (*model.RawRecord, error) {
	class := raw.Class
	if class == "" {
		class = schema.ClassClient
	}
	rec := &model.RawRecord{
		Tick:         raw.Tick,
		Slot:         raw.Slot,
		Class:        class,
		Lifecycle:    model.ParseLifecycle(raw.Lifecycle),
		Fields:       make(map[string]model.Value, len(raw.Fields)),
		OwnerSlot:    model.NoOwner,
		ExpiryReason: raw.Expiry,
	}
	if raw.Owner != nil {
		rec.OwnerSlot = *raw.Owner
	}

	decl, ok := s.schemas.Class(class)
	if !ok {
		// Entities of unconfigured classes flow through; the registry
		// still tracks them and series building drops their fields.
		return rec, nil
	}

	if err := s.mergePosition(rec, raw, decl); err != nil {
		return nil, err
	}

	for name, msg := range raw.Fields {
		if name == schema.FieldPosition || name == positionZField {
			continue
		}
		f, declared := decl.Field(name)
		if !declared {
			continue
		}
		v, err := coerce(name, f.Kind, msg)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		rec.Fields[name] = v
	}
	return rec, nil
}

// positionZField is the upstream quirk: the vertical coordinate of the
// origin arrives as its own property.
const positionZField = "position[2]"

// mergePosition combines the XY pair and the separate Z scalar into one
// vector, holding the last known component per slot when only part of
// the position changed this tick.
func (s *Source) mergePosition(rec *model.RawRecord, raw *rawLine, decl *schema.Class) error {
	if _, declared := decl.Field(schema.FieldPosition); !declared {
		return nil
	}

	xyMsg, hasXY := raw.Fields[schema.FieldPosition]
	zMsg, hasZ := raw.Fields[positionZField]
	if !hasXY && !hasZ {
		return nil
	}

	pos := s.lastPos[rec.Slot]
	if hasXY {
		var coords []float64
		if err := json.Unmarshal(xyMsg, &coords); err != nil {
			return fmt.Errorf("field %q: %w", schema.FieldPosition, err)
		}
		switch len(coords) {
		case 2:
			pos.X, pos.Y = coords[0], coords[1]
		case 3:
			pos.X, pos.Y, pos.Z = coords[0], coords[1], coords[2]
		default:
			return fmt.Errorf("field %q: expected 2 or 3 coordinates, got %d", schema.FieldPosition, len(coords))
		}
	}
	if hasZ {
		var z float64
		if err := json.Unmarshal(zMsg, &z); err != nil {
			return fmt.Errorf("field %q: %w", positionZField, err)
		}
		pos.Z = z
	}

	s.lastPos[rec.Slot] = pos
	rec.Fields[schema.FieldPosition] = model.Vector(pos)
	return nil
}

// coerce converts one JSON field payload to a declared kind. Enum-coded
// int fields accept either the numeric code or the decoded string the
// upstream parser emits.
func coerce(name string, kind model.Kind, msg json.RawMessage) (model.Value, error) {
	switch kind {
	case model.KindFloat:
		var f float64
		if err := json.Unmarshal(msg, &f); err != nil {
			return model.Value{}, err
		}
		return model.Float(f), nil
	case model.KindAngle:
		var f float64
		if err := json.Unmarshal(msg, &f); err != nil {
			return model.Value{}, err
		}
		return model.Angle(f), nil
	case model.KindInt:
		var n int64
		if err := json.Unmarshal(msg, &n); err == nil {
			return model.Int(n), nil
		}
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return model.Value{}, err
		}
		return model.Int(enumCode(name, str)), nil
	case model.KindBool:
		var b bool
		if err := json.Unmarshal(msg, &b); err != nil {
			return model.Value{}, err
		}
		return model.Bool(b), nil
	case model.KindVector:
		var coords []float64
		if err := json.Unmarshal(msg, &coords); err != nil {
			return model.Value{}, err
		}
		if len(coords) != 3 {
			return model.Value{}, fmt.Errorf("expected 3 coordinates, got %d", len(coords))
		}
		return model.Vector(model.Vec3{X: coords[0], Y: coords[1], Z: coords[2]}), nil
	default:
		var str string
		if err := json.Unmarshal(msg, &str); err != nil {
			return model.Value{}, err
		}
		return model.String(str), nil
	}
}

// enumCode resolves a decoded enum string to its numeric code based on
// the field it belongs to.
func enumCode(field, s string) int64 {
	switch field {
	case schema.FieldClass:
		return int64(model.ParsePlayerClass(s))
	case schema.FieldTeam:
		return int64(model.ParseTeam(s))
	case schema.FieldLifeState:
		return int64(model.ParseLifeState(s))
	default:
		return 0
	}
}
