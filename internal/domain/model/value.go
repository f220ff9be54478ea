package model

// Kind enumerates the declared field types a schema may carry.
type Kind uint8

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindAngle
	KindVector
	KindString
)

// String returns the schema name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindAngle:
		return "angle"
	case KindVector:
		return "vector"
	case KindString:
		return "string"
	default:
		return "float"
	}
}

// Value is one observed (or carried-forward) field value. The zero Value of
// any kind has Known == false, which is the "unknown" sentinel: it is
// distinguishable from a true zero observation and is what gap filling
// inserts before a field's first real observation.
type Value struct {
	Kind  Kind
	Known bool

	// Num carries float, int and angle payloads. Ints are stored as their
	// exact float64 representation; the replay protocol never exceeds 2^53.
	Num  float64
	Vec  Vec3
	Flag bool
	Str  string
}

// Float returns a known float value.
func Float(v float64) Value {
	return Value{Kind: KindFloat, Known: true, Num: v}
}

// Int returns a known integer value.
func Int(v int64) Value {
	return Value{Kind: KindInt, Known: true, Num: float64(v)}
}

// Bool returns a known boolean value.
func Bool(v bool) Value {
	return Value{Kind: KindBool, Known: true, Flag: v}
}

// Angle returns a known angular value in degrees.
func Angle(v float64) Value {
	return Value{Kind: KindAngle, Known: true, Num: v}
}

// Vector returns a known vector value.
func Vector(v Vec3) Value {
	return Value{Kind: KindVector, Known: true, Vec: v}
}

// String returns a known string value. Strings appear only in exported
// summary columns, never in declared per-tick field schemas.
func String(v string) Value {
	return Value{Kind: KindString, Known: true, Str: v}
}

// Unknown returns the unknown sentinel for a kind.
func Unknown(k Kind) Value {
	return Value{Kind: k}
}

// AsInt returns the value as int64. Only meaningful for KindInt.
func (v Value) AsInt() int64 {
	return int64(v.Num)
}
