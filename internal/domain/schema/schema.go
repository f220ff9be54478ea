// Package schema declares the per-class field schemas the pipeline accepts.
//
// The upstream replay protocol is open-ended: a decoded record may carry
// any property the game networked that tick. This core deliberately does
// not chase that; every entity class has a declared field set, validated at
// configuration time, and records referencing undeclared fields simply drop
// them. Gap-fill policy is part of the declaration and can be overridden
// per field through configuration.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/replaymetrics/pivot/internal/domain/model"
)

// Conventional field names used by feature derivation and transient
// tracking. Classes are free to omit them; derivation skips what a class
// does not declare.
const (
	FieldPosition   = "position"
	FieldYaw        = "view_angle"
	FieldPitch      = "pitch_angle"
	FieldVisibility = "in_pvs"
	FieldHealth     = "health"
	FieldMaxHealth  = "max_health"
	FieldClass      = "class"
	FieldTeam       = "team"
	FieldLifeState  = "life_state"
	FieldCharge     = "charge"
	FieldPing       = "ping"
)

// Well-known entity class names.
const (
	ClassClient     = "client"
	ClassProjectile = "projectile"
)

// GapFill selects how missing ticks are filled for a field.
type GapFill uint8

const (
	// FillHoldLast repeats the most recent known value until a new one is
	// observed. This is the default: the protocol only reports fields when
	// they change.
	FillHoldLast GapFill = iota

	// FillUnknown leaves every tick without an explicit observation at the
	// unknown sentinel.
	FillUnknown
)

// String returns the configuration name of the policy.
func (g GapFill) String() string {
	if g == FillUnknown {
		return "unknown"
	}
	return "hold-last"
}

// ParseGapFill maps a configuration string to a policy.
func ParseGapFill(s string) (GapFill, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hold-last", "hold_last", "holdlast":
		return FillHoldLast, nil
	case "unknown":
		return FillUnknown, nil
	default:
		return FillHoldLast, fmt.Errorf("%w: gap-fill policy %q", ErrInvalidPolicy, s)
	}
}

// Field is one declared column of an entity class.
type Field struct {
	Name string
	Kind model.Kind
	Fill GapFill
}

// Class is the declared schema of one entity class.
type Class struct {
	Name      string
	Transient bool
	Fields    []Field

	byName map[string]int
}

// NewClass builds a class schema from its field list.
func NewClass(name string, transient bool, fields []Field) *Class {
	c := &Class{
		Name:      name,
		Transient: transient,
		Fields:    fields,
		byName:    make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		c.byName[f.Name] = i
	}
	return c
}

// Field looks up a declared field by name.
func (c *Class) Field(name string) (Field, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Field{}, false
	}
	return c.Fields[i], true
}

// Set holds the schemas of every configured entity class.
type Set struct {
	classes map[string]*Class
}

// NewSet builds a set from class schemas.
func NewSet(classes ...*Class) *Set {
	s := &Set{classes: make(map[string]*Class, len(classes))}
	for _, c := range classes {
		s.classes[c.Name] = c
	}
	return s
}

// Default returns the schema set for a standard session: one client class
// mirroring the per-tick player record the upstream parser emits, and one
// projectile class.
func Default() *Set {
	client := NewClass(ClassClient, false, []Field{
		{Name: FieldPosition, Kind: model.KindVector},
		{Name: FieldYaw, Kind: model.KindAngle},
		{Name: FieldPitch, Kind: model.KindAngle},
		{Name: FieldHealth, Kind: model.KindInt},
		{Name: FieldMaxHealth, Kind: model.KindInt},
		{Name: FieldClass, Kind: model.KindInt},
		{Name: FieldTeam, Kind: model.KindInt},
		{Name: FieldLifeState, Kind: model.KindInt},
		{Name: FieldCharge, Kind: model.KindInt},
		{Name: FieldPing, Kind: model.KindInt, Fill: FillUnknown},
		{Name: FieldVisibility, Kind: model.KindBool},
	})
	projectile := transientClass(ClassProjectile)
	return NewSet(client, projectile)
}

// transientClass is the generic schema for short-lived world objects.
func transientClass(name string) *Class {
	return NewClass(name, true, []Field{
		{Name: FieldPosition, Kind: model.KindVector},
		{Name: FieldVisibility, Kind: model.KindBool},
	})
}

// Class looks up a class schema by name.
func (s *Set) Class(name string) (*Class, bool) {
	c, ok := s.classes[name]
	return c, ok
}

// Classes returns all class names in the set, sorted for stable iteration.
func (s *Set) Classes() []*Class {
	out := make([]*Class, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	sortClasses(out)
	return out
}

// TransientClasses returns the names of all transient classes.
func (s *Set) TransientClasses() []string {
	var out []string
	for _, c := range s.Classes() {
		if c.Transient {
			out = append(out, c.Name)
		}
	}
	return out
}

// EnsureTransient marks a class as tracked-transient, registering the
// generic transient schema when the class was not declared at all.
func (s *Set) EnsureTransient(name string) {
	if c, ok := s.classes[name]; ok {
		c.Transient = true
		return
	}
	s.classes[name] = transientClass(name)
}

// ApplyOverrides replaces the gap-fill policy of individual fields. Keys
// take the form "field" (every class declaring it) or "class.field". An
// override naming an undeclared field is a configuration error.
func (s *Set) ApplyOverrides(overrides map[string]string) error {
	for key, policy := range overrides {
		fill, err := ParseGapFill(policy)
		if err != nil {
			return err
		}
		className, fieldName, scoped := strings.Cut(key, ".")
		if scoped {
			c, ok := s.classes[className]
			if !ok {
				return fmt.Errorf("%w: class %q", ErrUnknownField, className)
			}
			if !c.setFill(fieldName, fill) {
				return fmt.Errorf("%w: %q in class %q", ErrUnknownField, fieldName, className)
			}
			continue
		}
		applied := false
		for _, c := range s.classes {
			if c.setFill(key, fill) {
				applied = true
			}
		}
		if !applied {
			return fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
	}
	return nil
}

func (c *Class) setFill(field string, fill GapFill) bool {
	i, ok := c.byName[field]
	if !ok {
		return false
	}
	c.Fields[i].Fill = fill
	return true
}

func sortClasses(cs []*Class) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
}
