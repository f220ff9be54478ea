package derive

import (
	"fmt"
	"sort"
	"strings"
)

// Feature is one derivable signal family.
type Feature string

const (
	FeatureAngleDelta      Feature = "angle_delta"
	FeatureSpeed           Feature = "speed"
	FeatureAcceleration    Feature = "acceleration"
	FeatureVisibilityEdges Feature = "visibility_edges"
)

// FeatureSet is the set of enabled derived signals.
type FeatureSet map[Feature]struct{}

// Has reports whether a feature is enabled.
func (fs FeatureSet) Has(f Feature) bool {
	_, ok := fs[f]
	return ok
}

// Names returns the enabled feature names, sorted.
func (fs FeatureSet) Names() []string {
	out := make([]string, 0, len(fs))
	for f := range fs {
		out = append(out, string(f))
	}
	sort.Strings(out)
	return out
}

// AllFeatures returns every supported feature enabled.
func AllFeatures() FeatureSet {
	return FeatureSet{
		FeatureAngleDelta:      {},
		FeatureSpeed:           {},
		FeatureAcceleration:    {},
		FeatureVisibilityEdges: {},
	}
}

// ParseFeatures maps configuration strings to a feature set.
func ParseFeatures(names []string) (FeatureSet, error) {
	fs := make(FeatureSet, len(names))
	for _, n := range names {
		switch f := Feature(strings.ToLower(strings.TrimSpace(n))); f {
		case FeatureAngleDelta, FeatureSpeed, FeatureAcceleration, FeatureVisibilityEdges:
			fs[f] = struct{}{}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeature, n)
		}
	}
	return fs, nil
}
