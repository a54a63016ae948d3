// Package fingerprint scores how likely two element fingerprints describe the
// same logical element, and remembers the last known good fingerprint for a
// selector.
package fingerprint

import (
	"math"
	"strings"

	"github.com/xkilldash9x/mender/api/schemas"
)

// Signal weights. Text and neighbor weights only count toward the denominator
// when both fingerprints carry that signal.
const (
	WeightTag       = 2.0
	WeightText      = 3.0
	WeightSpatial   = 4.0
	WeightNeighbors = 2.0
)

const (
	// stableDelta is the largest per-edge drift still treated as the same box.
	stableDelta = 5.0
	// nearbyDelta bounds the origin drift for a "moved a little" match.
	nearbyDelta = 50.0

	containmentScore = 0.8
	nearbyScore      = 0.6
)

// Score returns a similarity in [0, 1] between a reference fingerprint and a
// candidate. Different tags always score 0, as does any fingerprint without a
// tag name. Tags compare exactly; captures and loaded scenarios carry them in
// lower case.
func Score(a, b schemas.ElementFingerprint) float64 {
	if a.Validate() != nil || b.Validate() != nil {
		return 0
	}
	if a.TagName != b.TagName {
		return 0
	}

	total, applied := WeightTag, WeightTag

	if a.HasText() && b.HasText() {
		total += TextSimilarity(a.TextContent, b.TextContent) * WeightText
		applied += WeightText
	}

	total += SpatialSimilarity(a.VisualBoundingBox, b.VisualBoundingBox) * WeightSpatial
	applied += WeightSpatial

	if a.HasNeighbors() && b.HasNeighbors() {
		total += NeighborSimilarity(a.Neighbors, b.Neighbors) * WeightNeighbors
		applied += WeightNeighbors
	}

	return total / applied
}

// TextSimilarity is 1 for identical strings, 0.8 when one contains the other,
// and 0 otherwise. It is deliberately coarse.
func TextSimilarity(a, b string) float64 {
	switch {
	case a == b:
		return 1
	case strings.Contains(a, b), strings.Contains(b, a):
		return containmentScore
	default:
		return 0
	}
}

// SpatialSimilarity compares two boxes: 1 when every edge moved less than 5px,
// 0.6 when the origin moved less than 50px on both axes, 0 otherwise.
func SpatialSimilarity(a, b schemas.BoundingBox) float64 {
	dx := math.Abs(a.X - b.X)
	dy := math.Abs(a.Y - b.Y)
	dw := math.Abs(a.Width - b.Width)
	dh := math.Abs(a.Height - b.Height)

	if dx < stableDelta && dy < stableDelta && dw < stableDelta && dh < stableDelta {
		return 1
	}
	if dx < nearbyDelta && dy < nearbyDelta {
		return nearbyScore
	}
	return 0
}

// NeighborSimilarity compares neighbor lists position by position, one point
// for a matching tag and one for matching text, normalised by the longer list.
// Two empty lists are a perfect match.
func NeighborSimilarity(a, b []schemas.Neighbor) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}

	matches := 0
	for i := range min(len(a), len(b)) {
		if a[i].Tag == b[i].Tag {
			matches++
		}
		if a[i].Text == b[i].Text {
			matches++
		}
	}
	return float64(matches) / float64(2*longest)
}
