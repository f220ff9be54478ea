// Package model contains domain models passed between layers.
package model

import (
	"math"
	"strings"
)

// Lifecycle tags a raw record's position in an entity's lifetime.
type Lifecycle uint8

const (
	LifecycleUpdate Lifecycle = iota
	LifecycleSpawn
	LifecycleDestroy
)

// String returns the wire name of the lifecycle tag.
func (l Lifecycle) String() string {
	switch l {
	case LifecycleSpawn:
		return "spawn"
	case LifecycleDestroy:
		return "destroy"
	default:
		return "update"
	}
}

// ParseLifecycle maps a decoded lifecycle string to a tag.
// Anything unrecognized (including empty) is an update, since the upstream
// parser omits the tag on plain per-tick deltas.
func ParseLifecycle(s string) Lifecycle {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spawn", "enter", "created":
		return LifecycleSpawn
	case "destroy", "leave", "deleted":
		return LifecycleDestroy
	default:
		return LifecycleUpdate
	}
}

// Vec3 is a 3D position or direction in world units.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Len returns the Euclidean length.
func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// NoOwner marks the absence of an owner slot reference on a record.
const NoOwner = -1

// RawRecord is one observation for one entity slot at one tick, as handed
// over by the external replay parser. Fields are sparse: only values that
// changed this tick are present.
type RawRecord struct {
	Tick      int64
	Slot      int
	Class     string
	Lifecycle Lifecycle

	// Fields maps declared field names to observed values. Unknown field
	// names are tolerated upstream and dropped during series building.
	Fields map[string]Value

	// OwnerSlot carries the owning client's raw slot for transient spawns,
	// NoOwner when the record has no owner reference.
	OwnerSlot int

	// ExpiryReason is the lifecycle payload on destroy records; empty when
	// the payload omits it.
	ExpiryReason string
}
